package message

import "encoding/json"

// Option holds a patch value that is either unset or set to a value, where
// the value may be the zero value.
type Option[T any] struct {
	value T
	set   bool
}

// Some returns a set Option.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, set: true}
}

// Removed returns a set Option holding the zero value. Applying it clears
// the field.
func Removed[T any]() Option[T] {
	var zero T
	return Option[T]{value: zero, set: true}
}

// Get returns the value and whether it is set.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the field was touched.
func (o Option[T]) IsSet() bool {
	return o.set
}

// Value returns the held value without checking IsSet. Unset options
// return the zero value.
func (o Option[T]) Value() T {
	return o.value
}

// OrElse returns the value when set and def otherwise.
func (o Option[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// IsZero reports whether the option is unset, so omitzero drops it.
func (o Option[T]) IsZero() bool {
	return !o.set
}

// MarshalJSON writes the value, or null when unset.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON marks the option set. JSON null yields the zero value,
// which means "remove".
func (o *Option[T]) UnmarshalJSON(data []byte) error {
	var v T
	if string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
	}
	o.value = v
	o.set = true
	return nil
}
