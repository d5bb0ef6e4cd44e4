package engine

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"syndrkit/src/store"
)

// Uniqueness keeps one side bucket per unique field, mapping each stored
// value to the key of the document that owns it. Checking and claiming are
// separate store calls, so two concurrent writers can both win.
type Uniqueness struct {
	store  store.Store
	logger *zap.SugaredLogger
}

type uniqueValue struct {
	field string
	value string
}

// UniqueBucket names the side bucket of field in class.
func UniqueBucket(c *Class, field string) string {
	return fmt.Sprintf("%s_%s_unique", c.schema.Bucket(), field)
}

// canonical turns a stored value into the side bucket key.
func canonical(wire any) (string, bool) {
	switch t := wire.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return fmt.Sprint(wire), true
}

// Reserve claims value of field for owner. It fails with an IntegrityError
// when another stored document owns the value. A claim left behind by a
// document that no longer exists is taken over.
func (u *Uniqueness) Reserve(ctx context.Context, c *Class, field string, value any, owner string) error {
	key, ok := canonical(value)
	if !ok {
		return nil
	}
	b := u.store.Bucket(UniqueBucket(c, field))

	current, found, err := u.owner(ctx, b, key)
	if err != nil {
		return err
	}
	if found && current != owner {
		_, err := c.bucket().Get(ctx, current)
		switch {
		case err == nil:
			return &IntegrityError{Class: c.Name(), Field: field, Value: value, Owner: current}
		case !isNotFound(err):
			return storeErr("get", c.schema.Bucket(), current, err)
		}
		u.logger.Warnw("taking over stale unique claim", "class", c.Name(), "field", field, "value", key, "stale_owner", current)
	}
	if found && current == owner {
		return nil
	}
	if err := b.Put(ctx, key, store.Record{"key": owner}); err != nil {
		return storeErr("put", b.Name(), key, err)
	}
	return nil
}

// Release drops the claim on value if owner holds it.
func (u *Uniqueness) Release(ctx context.Context, c *Class, field string, value any, owner string) error {
	key, ok := canonical(value)
	if !ok {
		return nil
	}
	b := u.store.Bucket(UniqueBucket(c, field))

	current, found, err := u.owner(ctx, b, key)
	if err != nil || !found || current != owner {
		return err
	}
	if err := b.Delete(ctx, key); err != nil {
		return storeErr("delete", b.Name(), key, err)
	}
	return nil
}

// Owner returns the key owning value, if any.
func (u *Uniqueness) Owner(ctx context.Context, c *Class, field string, value any) (string, bool, error) {
	key, ok := canonical(value)
	if !ok {
		return "", false, nil
	}
	return u.owner(ctx, u.store.Bucket(UniqueBucket(c, field)), key)
}

func (u *Uniqueness) owner(ctx context.Context, b store.Bucket, key string) (string, bool, error) {
	rec, err := b.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, storeErr("get", b.Name(), key, err)
	}
	owner, _ := rec["key"].(string)
	return owner, true, nil
}

// reserveChanged claims every unique value of rec that differs from the last
// persisted one. It returns the claims made and the old values to release
// once the record is committed. On failure the claims made so far are
// dropped again.
func (u *Uniqueness) reserveChanged(ctx context.Context, d *Document, rec store.Record) ([]uniqueValue, []uniqueValue, error) {
	var reserved, released []uniqueValue
	for _, field := range d.class.schema.UniqueFields() {
		p, _ := d.class.schema.Field(field)

		newKey, hasNew := canonical(rec[field])
		var oldKey string
		var hasOld bool
		if d.state == StatePersisted {
			wire, err := p.ToStore(d.originals[field])
			if err == nil {
				oldKey, hasOld = canonical(wire)
			}
		}

		if hasNew && (!hasOld || newKey != oldKey) {
			if err := u.Reserve(ctx, d.class, field, rec[field], d.key); err != nil {
				u.rollback(ctx, d, reserved)
				return nil, nil, err
			}
			reserved = append(reserved, uniqueValue{field: field, value: newKey})
		}
		if hasOld && (!hasNew || newKey != oldKey) {
			released = append(released, uniqueValue{field: field, value: oldKey})
		}
	}
	return reserved, released, nil
}

// rollback drops claims taken by a save that did not commit.
func (u *Uniqueness) rollback(ctx context.Context, d *Document, reserved []uniqueValue) {
	if err := u.releaseEach(ctx, d, reserved); err != nil {
		u.logger.Errorw("failed to roll back unique claims", "class", d.ClassName(), "key", d.key, "error", err)
	}
}

func (u *Uniqueness) releaseAll(ctx context.Context, d *Document, released []uniqueValue) {
	if err := u.releaseEach(ctx, d, released); err != nil {
		u.logger.Errorw("failed to release old unique values", "class", d.ClassName(), "key", d.key, "error", err)
	}
}

// releasePersisted drops the claims of the last persisted values of d.
func (u *Uniqueness) releasePersisted(ctx context.Context, d *Document) {
	var values []uniqueValue
	for _, field := range d.class.schema.UniqueFields() {
		p, _ := d.class.schema.Field(field)
		wire, err := p.ToStore(d.originals[field])
		if err != nil {
			continue
		}
		if key, ok := canonical(wire); ok {
			values = append(values, uniqueValue{field: field, value: key})
		}
	}
	u.releaseAll(ctx, d, values)
}

func (u *Uniqueness) releaseEach(ctx context.Context, d *Document, values []uniqueValue) error {
	var errs error
	for _, v := range values {
		errs = multierr.Append(errs, u.Release(ctx, d.class, v.field, v.value, d.key))
	}
	return errs
}
