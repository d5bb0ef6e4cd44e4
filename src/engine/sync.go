package engine

import (
	"context"
	"fmt"

	"syndrkit/src/properties"
	"syndrkit/src/store"
)

// Save writes the document and keeps the collections of the documents it
// references in sync. Peers whose collections change are saved too, without
// cascading further: a peer's own unsynchronized reference changes are not
// written until the peer itself is saved. A failure stops the remaining
// steps; peer writes that already happened are not undone.
//
// The first save of a new document fails with ErrDuplicateInstance when its
// key is already stored.
func (d *Document) Save(ctx context.Context) (*Document, error) {
	if d.state == StateDeleted {
		return nil, &NotFoundError{Class: d.ClassName(), Key: d.key}
	}
	if err := d.class.registry.save(ctx, d, true); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the document from the store and from the collections and
// reference fields of its peers, then evicts it from the identity cache.
//
// A peer whose required reference points at the document cannot be saved
// without it, so the delete fails with ErrMissingRequiredField and the
// document stays stored. Peers saved before that failure keep their cleared
// references.
func (d *Document) Delete(ctx context.Context) error {
	switch d.state {
	case StateNew:
		d.class.registry.cache.Evict(d.ClassName(), d.key)
		d.state = StateDeleted
		return &NotFoundError{Class: d.ClassName(), Key: d.key}
	case StateDeleted:
		return &NotFoundError{Class: d.ClassName(), Key: d.key}
	}
	return d.class.registry.delete(ctx, d)
}

// Reload replaces the fields with what the store holds now.
func (d *Document) Reload(ctx context.Context) error {
	if d.state != StatePersisted {
		return &NotFoundError{Class: d.ClassName(), Key: d.key}
	}
	rec, links, err := d.class.fetch(ctx, d.key)
	if err != nil {
		return err
	}
	if err := d.fill(rec, links); err != nil {
		return err
	}
	if err := d.dropDangling(ctx); err != nil {
		return err
	}
	d.snapshot(false)
	return nil
}

func (r *Registry) save(ctx context.Context, d *Document, cascade bool) error {
	log := r.logger.With("class", d.ClassName(), "key", d.key, "cascade", cascade)

	values := d.written(!cascade)
	rec, err := d.serialize(values)
	if err != nil {
		return err
	}
	if err := r.checkUnclaimed(ctx, d); err != nil {
		return err
	}

	reserved, released, err := r.unique.reserveChanged(ctx, d, rec)
	if err != nil {
		return err
	}

	var dirty []*Document
	if cascade {
		dirty, err = r.syncReferences(ctx, d)
		if err != nil {
			r.unique.rollback(ctx, d, reserved)
			return err
		}
	}

	if err := r.commit(ctx, d, rec, values); err != nil {
		r.unique.rollback(ctx, d, reserved)
		return err
	}
	r.unique.releaseAll(ctx, d, released)

	d.state = StatePersisted
	d.unclaimed = false
	d.snapshot(!cascade)
	r.cache.PutIfAbsent(d.ClassName(), d.key, d)
	log.Debugw("saved document", "peers", len(dirty))

	for _, peer := range dirty {
		if peer == d || peer.state == StateDeleted {
			continue
		}
		if err := r.save(ctx, peer, false); err != nil {
			return fmt.Errorf("cascade save of %s: %w", peer, err)
		}
	}
	return nil
}

// commit writes the record, then its links, then its indexes.
func (r *Registry) commit(ctx context.Context, d *Document, rec store.Record, values map[string]any) error {
	b := d.class.bucket()
	if err := b.Put(ctx, d.key, rec); err != nil {
		return storeErr("put", b.Name(), d.key, err)
	}
	links := d.storeLinks(values)
	if err := b.SetLinks(ctx, d.key, links); err != nil {
		return storeErr("set links", b.Name(), d.key, err)
	}
	if err := b.SetIndexes(ctx, d.key, d.storeIndexes(rec)); err != nil {
		return storeErr("set indexes", b.Name(), d.key, err)
	}
	d.links = links
	return nil
}

// checkUnclaimed refuses the first save of a new document whose key is
// already stored, so a cold cache never turns into an overwrite.
func (r *Registry) checkUnclaimed(ctx context.Context, d *Document) error {
	if d.state != StateNew || !d.unclaimed {
		return nil
	}
	b := d.class.bucket()
	_, err := b.Get(ctx, d.key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s is already stored", ErrDuplicateInstance, d)
	case !isNotFound(err):
		return storeErr("get", b.Name(), d.key, err)
	}
	d.unclaimed = false
	return nil
}

type refChange struct {
	field      string
	collection string
	ref        properties.Ref
}

// syncReferences diffs every reference field that owns a collection against
// the last persisted state and updates the collections on the peers. All
// additions are applied before any removal. It returns the peers to save.
func (r *Registry) syncReferences(ctx context.Context, d *Document) ([]*Document, error) {
	var added, removed []refChange
	for _, name := range d.class.schema.ReferenceFields() {
		p, _ := d.class.schema.Field(name)
		if p.Collection() == "" {
			continue
		}
		current := refsOf(d.data[name])
		original := refsOf(d.originals[name])
		for _, ref := range current {
			if !properties.ContainsKey(original, ref.Key()) {
				added = append(added, refChange{field: name, collection: p.Collection(), ref: ref})
			}
		}
		for _, ref := range original {
			if !properties.ContainsKey(current, ref.Key()) {
				removed = append(removed, refChange{field: name, collection: p.Collection(), ref: ref})
			}
		}
	}

	self := d.Ref()
	var dirty peerSet

	for _, ch := range added {
		peer, err := r.peer(ctx, ch.ref)
		if err != nil {
			if isNotFound(err) {
				r.logger.Warnw("reference target missing", "class", d.ClassName(), "key", d.key, "field", ch.field, "target", ch.ref.String())
				continue
			}
			return nil, err
		}
		if !peer.class.schema.Has(ch.collection) {
			continue
		}
		refs := refsOf(peer.data[ch.collection])
		if properties.ContainsKey(refs, d.key) {
			continue
		}
		peer.data[ch.collection] = append(append([]properties.Ref(nil), refs...), self)
		dirty.add(peer)
		r.logger.Debugw("collection add", "peer", peer.String(), "collection", ch.collection, "member", self.String())
	}

	for _, ch := range removed {
		peer, err := r.peer(ctx, ch.ref)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		refs := refsOf(peer.data[ch.collection])
		if !properties.ContainsKey(refs, d.key) {
			continue
		}
		peer.data[ch.collection] = properties.RemoveKey(refs, d.key)
		dirty.add(peer)
		r.logger.Debugw("collection remove", "peer", peer.String(), "collection", ch.collection, "member", self.String())
	}

	return dirty.docs, nil
}

func (r *Registry) delete(ctx context.Context, d *Document) error {
	log := r.logger.With("class", d.ClassName(), "key", d.key)
	var dirty peerSet

	// Peers holding a forward reference to d, found through d's collections.
	stored, err := d.class.bucket().Links(ctx, d.key)
	if err != nil {
		return storeErr("links", d.class.schema.Bucket(), d.key, err)
	}
	for _, name := range d.class.schema.BackReferenceFields() {
		p, _ := d.class.schema.Field(name)
		members := unionRefs(refsOf(d.data[name]), refsOf(d.originals[name]))
		for _, l := range stored {
			if l.Tag == name {
				members = unionRefs(members, []properties.Ref{properties.NewRef(r.classOf(l.Bucket, p.Target()), l.Key)})
			}
		}
		for _, ref := range members {
			peer, err := r.peer(ctx, ref)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return err
			}
			if dropReference(peer, p.SourceField(), d.key) {
				dirty.add(peer)
			}
		}
	}

	// Peers whose collection lists d, found through d's own references.
	for _, name := range d.class.schema.ReferenceFields() {
		p, _ := d.class.schema.Field(name)
		if p.Collection() == "" {
			continue
		}
		for _, ref := range unionRefs(refsOf(d.data[name]), refsOf(d.originals[name])) {
			peer, err := r.peer(ctx, ref)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return err
			}
			refs := refsOf(peer.data[p.Collection()])
			if properties.ContainsKey(refs, d.key) {
				peer.data[p.Collection()] = properties.RemoveKey(refs, d.key)
				dirty.add(peer)
			}
		}
	}

	for _, peer := range dirty.docs {
		if peer == d || peer.state == StateDeleted {
			continue
		}
		if err := r.save(ctx, peer, false); err != nil {
			if isNotFound(err) {
				continue
			}
			return fmt.Errorf("cascade save of %s: %w", peer, err)
		}
	}

	r.unique.releasePersisted(ctx, d)

	b := d.class.bucket()
	if err := b.Delete(ctx, d.key); err != nil {
		return storeErr("delete", b.Name(), d.key, err)
	}
	r.cache.Evict(d.ClassName(), d.key)
	d.state = StateDeleted
	log.Debugw("deleted document", "peers", len(dirty.docs))
	return nil
}

// dropReference removes key from a forward reference field of peer, in both
// the current value and the snapshot, since the target no longer exists.
func dropReference(peer *Document, field, key string) bool {
	changed := false
	for _, values := range []map[string]any{peer.data, peer.originals} {
		switch t := values[field].(type) {
		case properties.Ref:
			if t.Key() == key {
				values[field] = nil
				changed = true
			}
		case []properties.Ref:
			if properties.ContainsKey(t, key) {
				values[field] = properties.RemoveKey(t, key)
				changed = true
			}
		}
	}
	return changed
}

func unionRefs(a, b []properties.Ref) []properties.Ref {
	out := append([]properties.Ref(nil), a...)
	for _, ref := range b {
		if !properties.ContainsKey(out, ref.Key()) {
			out = append(out, ref)
		}
	}
	return out
}

// peerSet keeps peers in first seen order without repeats.
type peerSet struct {
	docs []*Document
	seen map[*Document]bool
}

func (s *peerSet) add(d *Document) {
	if s.seen == nil {
		s.seen = make(map[*Document]bool)
	}
	if !s.seen[d] {
		s.seen[d] = true
		s.docs = append(s.docs, d)
	}
}
