// Package serialize provides the struct-(de)serialization mechanism the
// design note in spec.md §9 requires: an "equivalent mechanism" to the
// original source's derive-macro, field order being part of the wire ABI.
//
// Instead of a go:generate code generator (the mechanism the design note
// explicitly puts out of scope), this package walks a struct's fields in
// declaration order with reflect, dispatching each field to a bitstream
// primitive named by its `bits` struct tag:
//
//	type Header struct {
//	    ProtocolID uint32 `bits:"32"`
//	    Sequence   uint16 `bits:"16"`
//	    Flag       bool   `bits:"bool"`
//	    Count      uint64 `bits:"varint"`
//	    Delta      int64  `bits:"zigzag"`
//	}
//
// A value passed to Marshal/Unmarshal that implements BitSerializable
// bypasses reflection entirely: its own methods are called directly, giving
// it exact control over its layout. Struct fields are always encoded by
// their `bits` tag; a field's BitSerializable methods are not consulted.
package serialize

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/packetforge/gbnet/bitstream"
)

// BitSerializable is implemented by types that hand-encode themselves onto
// a bitstream.Writer/Reader instead of relying on struct-tag reflection.
type BitSerializable interface {
	WriteBits(w *bitstream.Writer) error
	ReadBits(r *bitstream.Reader) error
}

// Marshal serializes v (a struct or pointer to struct) field by field in
// declaration order onto w, per each field's `bits` tag.
func Marshal(w *bitstream.Writer, v interface{}) error {
	if bs, ok := v.(BitSerializable); ok {
		return bs.WriteBits(w)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("serialize: Marshal requires a struct, got %s", rv.Kind())
	}
	return marshalStruct(w, rv)
}

// Unmarshal deserializes into v (must be a non-nil pointer to struct),
// field by field in declaration order, per each field's `bits` tag.
func Unmarshal(r *bitstream.Reader, v interface{}) error {
	if bs, ok := v.(BitSerializable); ok {
		return bs.ReadBits(r)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("serialize: Unmarshal requires a non-nil pointer, got %s", rv.Kind())
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("serialize: Unmarshal requires a struct pointer, got %s", rv.Kind())
	}
	return unmarshalStruct(r, rv)
}

func marshalStruct(w *bitstream.Writer, rv reflect.Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		tag, ok := field.Tag.Lookup("bits")
		if !ok {
			continue
		}
		if err := writeTagged(w, rv.Field(i), tag); err != nil {
			return fmt.Errorf("serialize: field %s: %w", field.Name, err)
		}
	}
	return nil
}

func unmarshalStruct(r *bitstream.Reader, rv reflect.Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		tag, ok := field.Tag.Lookup("bits")
		if !ok {
			continue
		}
		if err := readTagged(r, rv.Field(i), tag); err != nil {
			return fmt.Errorf("serialize: field %s: %w", field.Name, err)
		}
	}
	return nil
}

func writeTagged(w *bitstream.Writer, fv reflect.Value, tag string) error {
	switch {
	case tag == "bool":
		return w.WriteBool(fv.Bool())
	case tag == "varint":
		return w.WriteVarint(uintValue(fv))
	case tag == "zigzag":
		return w.WriteVarintSigned(intValue(fv))
	case strings.HasPrefix(tag, "range:"):
		bounds := strings.SplitN(strings.TrimPrefix(tag, "range:"), ",", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("malformed range tag %q", tag)
		}
		min, err := strconv.ParseInt(bounds[0], 10, 64)
		if err != nil {
			return err
		}
		max, err := strconv.ParseInt(bounds[1], 10, 64)
		if err != nil {
			return err
		}
		return w.WriteRangedInt(intValue(fv), min, max)
	default:
		n, err := strconv.Atoi(tag)
		if err != nil {
			return fmt.Errorf("unrecognized bits tag %q", tag)
		}
		return w.WriteBits(uint32(uintValue(fv)), n)
	}
}

func readTagged(r *bitstream.Reader, fv reflect.Value, tag string) error {
	switch {
	case tag == "bool":
		v, err := r.ReadBool()
		if err != nil {
			return err
		}
		fv.SetBool(v)
		return nil
	case tag == "varint":
		v, err := r.ReadVarint()
		if err != nil {
			return err
		}
		setUint(fv, v)
		return nil
	case tag == "zigzag":
		v, err := r.ReadVarintSigned()
		if err != nil {
			return err
		}
		setInt(fv, v)
		return nil
	case strings.HasPrefix(tag, "range:"):
		bounds := strings.SplitN(strings.TrimPrefix(tag, "range:"), ",", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("malformed range tag %q", tag)
		}
		min, err := strconv.ParseInt(bounds[0], 10, 64)
		if err != nil {
			return err
		}
		max, err := strconv.ParseInt(bounds[1], 10, 64)
		if err != nil {
			return err
		}
		v, err := r.ReadRangedInt(min, max)
		if err != nil {
			return err
		}
		setInt(fv, v)
		return nil
	default:
		n, err := strconv.Atoi(tag)
		if err != nil {
			return fmt.Errorf("unrecognized bits tag %q", tag)
		}
		v, err := r.ReadBits(n)
		if err != nil {
			return err
		}
		setUint(fv, uint64(v))
		return nil
	}
}

func uintValue(fv reflect.Value) uint64 {
	switch fv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fv.Uint()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(fv.Int())
	default:
		return 0
	}
}

func intValue(fv reflect.Value) int64 {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(fv.Uint())
	default:
		return 0
	}
}

func setUint(fv reflect.Value, v uint64) {
	switch fv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(int64(v))
	}
}

func setInt(fv reflect.Value, v int64) {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(uint64(v))
	}
}
