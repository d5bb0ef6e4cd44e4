package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.uber.org/multierr"

	"syndrkit/src/properties"
	"syndrkit/src/store"
)

// State is the lifecycle position of a document.
type State int

const (
	StateNew State = iota
	StatePersisted
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePersisted:
		return "persisted"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Document is one entity of a class: the validated field values plus a
// snapshot of what was last loaded or saved. A Document is not safe for
// concurrent mutation.
type Document struct {
	class     *Class
	key       string
	state     State
	data      map[string]any
	originals map[string]any
	links     []store.Link

	// unclaimed is set until a new document has checked that its key is free.
	unclaimed bool
}

func newDocument(c *Class, key string) *Document {
	d := &Document{
		class:     c,
		key:       key,
		data:      make(map[string]any),
		originals: make(map[string]any),
	}
	for _, name := range c.schema.Fields() {
		p, _ := c.schema.Field(name)
		d.data[name] = p.DefaultValue()
	}
	return d
}

func (d *Document) Key() string       { return d.key }
func (d *Document) ClassName() string { return d.class.Name() }
func (d *Document) Class() *Class     { return d.class }
func (d *Document) State() State      { return d.state }
func (d *Document) Persisted() bool   { return d.state == StatePersisted }

// Ref returns a reference to the document.
func (d *Document) Ref() properties.Ref {
	return properties.NewRef(d.class.Name(), d.key)
}

// Dirty reports whether fields changed since the last load or save. It is
// advisory only.
func (d *Document) Dirty() bool {
	if d.state != StatePersisted {
		return true
	}
	return !reflect.DeepEqual(d.data, d.originals)
}

// Links returns the link set last written or read for the document.
func (d *Document) Links() []store.Link {
	return append([]store.Link(nil), d.links...)
}

// Get returns the value of name. Declared fields that were never set yield
// their default; anything else unknown is an error.
func (d *Document) Get(name string) (any, error) {
	if v, ok := d.data[name]; ok {
		return properties.CloneValue(v), nil
	}
	if p, ok := d.class.schema.Field(name); ok {
		return p.DefaultValue(), nil
	}
	return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrUnknownField}
}

// Set validates then standardizes v and stores it. Nothing changes when
// either step fails. Names the schema does not declare are kept as dynamic
// fields and stored as given. A nil value clears the field; required fields
// are only checked on save.
func (d *Document) Set(name string, v any) error {
	p, declared := d.class.schema.Field(name)
	if !declared {
		d.data[name] = properties.CloneValue(v)
		return nil
	}
	if p.Kind() == properties.KindBackReference {
		return &FieldError{Class: d.ClassName(), Field: name, Err: ErrReadOnlyField}
	}
	if v == nil {
		d.data[name] = nil
		return nil
	}
	if !p.Validate(v) {
		return &properties.ValidationError{Field: name, Value: v}
	}
	std, err := p.Standardize(v)
	if err != nil {
		return &FieldError{Class: d.ClassName(), Field: name, Err: err}
	}
	d.data[name] = std
	return nil
}

// Unset clears a declared field and removes a dynamic one.
func (d *Document) Unset(name string) error {
	if p, ok := d.class.schema.Field(name); ok {
		if p.Kind() == properties.KindBackReference {
			return &FieldError{Class: d.ClassName(), Field: name, Err: ErrReadOnlyField}
		}
		d.data[name] = nil
		return nil
	}
	if _, ok := d.data[name]; ok {
		delete(d.data, name)
		return nil
	}
	return &FieldError{Class: d.ClassName(), Field: name, Err: ErrUnknownField}
}

// Merge sets several fields in name order and stops at the first failure.
func (d *Document) Merge(fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.Set(name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// Values returns a copy of every field value.
func (d *Document) Values() map[string]any {
	out := make(map[string]any, len(d.data))
	for k, v := range d.data {
		out[k] = properties.CloneValue(v)
	}
	return out
}

func (d *Document) GetString(name string) (string, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", d.mismatch(name, "string", v)
	}
	return s, nil
}

func (d *Document) GetFloat(name string) (float64, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, d.mismatch(name, "number", v)
	}
	return f, nil
}

func (d *Document) GetInt(name string) (int64, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return 0, err
	}
	i, ok := v.(int64)
	if !ok {
		return 0, d.mismatch(name, "integer", v)
	}
	return i, nil
}

func (d *Document) GetBool(name string) (bool, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, d.mismatch(name, "boolean", v)
	}
	return b, nil
}

func (d *Document) GetTime(name string) (time.Time, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, d.mismatch(name, "datetime", v)
	}
	return t, nil
}

// GetRef returns the reference held by a single reference field. The zero
// Ref means the field is empty.
func (d *Document) GetRef(name string) (properties.Ref, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return properties.Ref{}, err
	}
	ref, ok := v.(properties.Ref)
	if !ok {
		return properties.Ref{}, d.mismatch(name, "reference", v)
	}
	return ref, nil
}

// GetRefs returns the references of a multi-reference or back-reference field.
func (d *Document) GetRefs(name string) ([]properties.Ref, error) {
	v, err := d.Get(name)
	if err != nil || v == nil {
		return nil, err
	}
	refs, ok := v.([]properties.Ref)
	if !ok {
		return nil, d.mismatch(name, "references", v)
	}
	return refs, nil
}

func (d *Document) mismatch(name, typ string, v any) error {
	return &FieldError{
		Class: d.ClassName(),
		Field: name,
		Err:   &properties.TypeMismatchError{Type: typ, Value: v},
	}
}

// Append adds target to a multi-reference field.
func (d *Document) Append(name string, target any) error {
	p, err := d.multiField(name)
	if err != nil {
		return err
	}
	refs, _ := d.data[name].([]properties.Ref)
	items := make([]any, 0, len(refs)+1)
	for _, r := range refs {
		items = append(items, r)
	}
	items = append(items, target)
	if !p.Validate(items) {
		return &properties.ValidationError{Field: name, Value: target}
	}
	return d.Set(name, items)
}

// Remove drops every reference to target's key from a multi-reference field.
func (d *Document) Remove(name string, target any) error {
	if _, err := d.multiField(name); err != nil {
		return err
	}
	var key string
	switch t := target.(type) {
	case string:
		key = t
	case properties.Referent:
		key = t.Key()
	default:
		return &properties.ValidationError{Field: name, Value: target, Reason: "not a reference"}
	}
	refs, _ := d.data[name].([]properties.Ref)
	d.data[name] = properties.RemoveKey(refs, key)
	return nil
}

func (d *Document) multiField(name string) (*properties.Property, error) {
	p, ok := d.class.schema.Field(name)
	if !ok {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrUnknownField}
	}
	if p.Kind() == properties.KindBackReference {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrReadOnlyField}
	}
	if p.Kind() != properties.KindMultiReference {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrNotReference}
	}
	return p, nil
}

// Resolve loads the document a single reference field points at. An empty
// field yields nil. A dangling reference yields nil unless the field is
// strict.
func (d *Document) Resolve(ctx context.Context, name string) (*Document, error) {
	p, ok := d.class.schema.Field(name)
	if !ok {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrUnknownField}
	}
	if p.Kind() != properties.KindReference {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrNotReference}
	}
	ref, err := d.GetRef(name)
	if err != nil || ref.IsZero() {
		return nil, err
	}
	doc, err := d.class.registry.peer(ctx, ref)
	if err != nil {
		if isNotFound(err) && !p.Strict() {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// ResolveAll loads every document of a multi-reference or back-reference
// field, skipping dangling references unless the field is strict.
func (d *Document) ResolveAll(ctx context.Context, name string) ([]*Document, error) {
	p, ok := d.class.schema.Field(name)
	if !ok {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrUnknownField}
	}
	if p.Kind() != properties.KindMultiReference && p.Kind() != properties.KindBackReference {
		return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrNotReference}
	}
	refs, err := d.GetRefs(name)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(refs))
	for _, ref := range refs {
		doc, err := d.class.registry.peer(ctx, ref)
		if err != nil {
			if isNotFound(err) && !p.Strict() {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Validate checks every declared field and reports all failures at once.
func (d *Document) Validate() error {
	var errs error
	for _, name := range d.class.schema.Fields() {
		p, _ := d.class.schema.Field(name)
		if p.Kind() == properties.KindBackReference {
			continue
		}
		v, present := d.data[name]
		if !present {
			v = p.DefaultValue()
		}
		switch {
		case v == nil && p.Required():
			errs = multierr.Append(errs, &FieldError{Class: d.ClassName(), Field: name, Err: ErrMissingRequiredField})
		case v != nil && !p.Validate(v):
			errs = multierr.Append(errs, &properties.ValidationError{Field: name, Value: v})
		}
	}
	return errs
}

// Serialize converts the fields into the record written to the store.
// Back-references are never part of the record.
func (d *Document) Serialize() (store.Record, error) {
	return d.serialize(d.data)
}

func (d *Document) serialize(values map[string]any) (store.Record, error) {
	rec := make(store.Record, len(values))
	for _, name := range d.class.schema.Fields() {
		p, _ := d.class.schema.Field(name)
		if p.Kind() == properties.KindBackReference {
			continue
		}
		v, present := values[name]
		if !present {
			v = p.DefaultValue()
		}
		if v == nil && p.Required() {
			return nil, &FieldError{Class: d.ClassName(), Field: name, Err: ErrMissingRequiredField}
		}
		wire, err := p.ToStore(v)
		if err != nil {
			return nil, &FieldError{Class: d.ClassName(), Field: name, Err: err}
		}
		rec[name] = wire
	}
	for name, v := range values {
		if !d.class.schema.Has(name) {
			rec[name] = properties.CloneValue(v)
		}
	}
	return rec, nil
}

// written returns the values a save writes. With deferReferences set, the
// reference fields owning a collection keep their last persisted value, so
// the store never holds a reference its target's collection does not list.
// A required field with no persisted value is written as it is now.
func (d *Document) written(deferReferences bool) map[string]any {
	if !deferReferences {
		return d.data
	}
	values := make(map[string]any, len(d.data))
	for name, v := range d.data {
		values[name] = v
	}
	for _, name := range d.class.schema.ReferenceFields() {
		p, _ := d.class.schema.Field(name)
		if p.Collection() == "" {
			continue
		}
		old, ok := d.originals[name]
		if !ok {
			old = p.DefaultValue()
		}
		if old == nil && p.Required() {
			continue
		}
		values[name] = old
	}
	return values
}

// storeLinks derives the link set: one link per forward reference tagged with
// the field name, and one per back-reference tagged with the collection.
func (d *Document) storeLinks(values map[string]any) []store.Link {
	var links []store.Link
	reg := d.class.registry
	for _, name := range d.class.schema.Fields() {
		p, _ := d.class.schema.Field(name)
		if !p.IsReference() && p.Kind() != properties.KindBackReference {
			continue
		}
		for _, ref := range refsOf(values[name]) {
			links = append(links, store.Link{
				Bucket: reg.bucketOf(ref.ClassName(), p.Target()),
				Key:    ref.Key(),
				Tag:    name,
			})
		}
	}
	return store.UniqueLinks(links)
}

// storeIndexes derives one index entry per value of every indexed field.
func (d *Document) storeIndexes(rec store.Record) []store.Index {
	var indexes []store.Index
	for _, name := range d.class.schema.IndexedFields() {
		wire := rec[name]
		if wire == nil {
			continue
		}
		if items, ok := wire.([]any); ok {
			for _, item := range items {
				if item != nil {
					indexes = append(indexes, store.Index{Field: name, Value: item})
				}
			}
			continue
		}
		indexes = append(indexes, store.Index{Field: name, Value: wire})
	}
	return indexes
}

// fill replaces the fields with a stored record and its links. Absent fields
// take their default; back-references are rebuilt from the links and the
// class of forward references is taken from the bucket they point into.
func (d *Document) fill(rec store.Record, links []store.Link) error {
	reg := d.class.registry
	data := make(map[string]any, len(rec))

	byTag := make(map[string][]store.Link)
	for _, l := range links {
		byTag[l.Tag] = append(byTag[l.Tag], l)
	}

	for _, name := range d.class.schema.Fields() {
		p, _ := d.class.schema.Field(name)
		switch p.Kind() {
		case properties.KindBackReference:
			refs := make([]properties.Ref, 0, len(byTag[name]))
			for _, l := range byTag[name] {
				refs = append(refs, properties.NewRef(reg.classOf(l.Bucket, p.Target()), l.Key))
			}
			data[name] = refs
			continue
		}

		v, err := p.FromStore(rec[name])
		if err != nil {
			return &FieldError{Class: d.ClassName(), Field: name, Err: err}
		}
		if p.IsReference() {
			v = retarget(v, byTag[name], func(bucket string) string { return reg.classOf(bucket, p.Target()) })
		}
		data[name] = v
	}
	for name, v := range rec {
		if !d.class.schema.Has(name) {
			data[name] = properties.CloneValue(v)
		}
	}

	d.data = data
	d.links = store.UniqueLinks(links)
	return nil
}

// dropDangling clears loaded references that own no collection and whose
// target is gone. Such references are not repaired when the target is
// deleted. A strict field reports the missing target instead.
func (d *Document) dropDangling(ctx context.Context) error {
	reg := d.class.registry
	for _, name := range d.class.schema.ReferenceFields() {
		p, _ := d.class.schema.Field(name)
		if p.Collection() != "" {
			continue
		}
		refs := refsOf(d.data[name])
		if len(refs) == 0 {
			continue
		}
		kept := make([]properties.Ref, 0, len(refs))
		for _, ref := range refs {
			ok, err := reg.exists(ctx, ref)
			if err != nil {
				return err
			}
			if ok {
				kept = append(kept, ref)
				continue
			}
			if p.Strict() {
				return &FieldError{Class: d.ClassName(), Field: name, Err: &NotFoundError{Class: ref.ClassName(), Key: ref.Key()}}
			}
			reg.logger.Debugw("dropping dangling reference", "class", d.ClassName(), "key", d.key, "field", name, "target", ref.String())
		}
		if len(kept) == len(refs) {
			continue
		}
		if p.Kind() == properties.KindMultiReference {
			d.data[name] = kept
		} else {
			d.data[name] = nil
		}
	}
	return nil
}

// retarget fixes the class of loaded references using their links.
func retarget(v any, links []store.Link, classOf func(bucket string) string) any {
	if len(links) == 0 {
		return v
	}
	buckets := make(map[string]string, len(links))
	for _, l := range links {
		buckets[l.Key] = l.Bucket
	}
	switch t := v.(type) {
	case properties.Ref:
		if bucket, ok := buckets[t.Key()]; ok {
			return properties.NewRef(classOf(bucket), t.Key())
		}
	case []properties.Ref:
		out := make([]properties.Ref, len(t))
		for i, ref := range t {
			out[i] = ref
			if bucket, ok := buckets[ref.Key()]; ok {
				out[i] = properties.NewRef(classOf(bucket), ref.Key())
			}
		}
		return out
	}
	return v
}

// snapshot records the current fields as the last persisted state. With
// keepReferences set the reference fields owning a collection keep their old
// snapshot so a change not yet synchronized is still seen by the next save.
func (d *Document) snapshot(keepReferences bool) {
	originals := make(map[string]any, len(d.data))
	for name, v := range d.data {
		if keepReferences {
			if p, ok := d.class.schema.Field(name); ok && p.IsReference() && p.Collection() != "" {
				if old, had := d.originals[name]; had {
					originals[name] = old
				}
				continue
			}
		}
		originals[name] = properties.CloneValue(v)
	}
	d.originals = originals
}

func refsOf(v any) []properties.Ref {
	switch t := v.(type) {
	case properties.Ref:
		if t.IsZero() {
			return nil
		}
		return []properties.Ref{t}
	case []properties.Ref:
		return t
	}
	return nil
}

func (d *Document) String() string {
	return fmt.Sprintf("%s/%s", d.ClassName(), d.key)
}
