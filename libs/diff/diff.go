package diff

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	odiff "github.com/r3labs/diff/v3"
)

// GetCustomDiffer returns a differ that treats uuid.UUID and time.Time as leaf values.
func GetCustomDiffer() *odiff.Differ {
	ret, err := odiff.NewDiffer(
		odiff.CustomValueDiffers(&UUIDComparer{}, &TimeComparer{}),
		odiff.SliceOrdering(true),
	)
	if err != nil {
		panic(err)
	}
	return ret
}

// Changes lists what differs between before and after.
func Changes(before, after any) (odiff.Changelog, error) {
	return GetCustomDiffer().Diff(before, after)
}

// Paths renders every change as "type:dotted.path", e.g. "update:songs.0.votes".
func Paths(cl odiff.Changelog) []string {
	out := make([]string, 0, len(cl))
	for _, c := range cl {
		out = append(out, c.Type+":"+strings.Join(c.Path, "."))
	}
	return out
}

type UUIDComparer struct{}

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
)

// Match check is field match this custom type
func (c UUIDComparer) Match(a, b reflect.Value) bool {
	return leafMatch(uuidType, a, b)
}

// Diff reports a single update instead of walking the uuid bytes
func (c UUIDComparer) Diff(_ odiff.DiffType, _ odiff.DiffFunc, cl *odiff.Changelog, path []string, a reflect.Value, b reflect.Value, _ interface{}) error {
	valA := reflect.Indirect(a)
	valB := reflect.Indirect(b)

	// one side nil
	if !valA.IsValid() || !valB.IsValid() {
		if valA.IsValid() != valB.IsValid() {
			cl.Add(odiff.UPDATE, path, interfaceOf(a), interfaceOf(b))
		}
		return nil
	}

	u1 := valA.Interface().(uuid.UUID)
	u2 := valB.Interface().(uuid.UUID)
	if u1 != u2 {
		cl.Add(odiff.UPDATE, path, u1, u2)
	}
	return nil
}

// InsertParentDiffer is a no-op, uuid is a leaf
func (c UUIDComparer) InsertParentDiffer(_ func(path []string, a reflect.Value, b reflect.Value, p interface{}) error) {
}

// TimeComparer compares instants with time.Time.Equal so monotonic readings and
// locations do not show up as changes.
type TimeComparer struct{}

func (c TimeComparer) Match(a, b reflect.Value) bool {
	return leafMatch(timeType, a, b)
}

func (c TimeComparer) Diff(_ odiff.DiffType, _ odiff.DiffFunc, cl *odiff.Changelog, path []string, a reflect.Value, b reflect.Value, _ interface{}) error {
	valA := reflect.Indirect(a)
	valB := reflect.Indirect(b)
	if !valA.IsValid() || !valB.IsValid() {
		if valA.IsValid() != valB.IsValid() {
			cl.Add(odiff.UPDATE, path, interfaceOf(a), interfaceOf(b))
		}
		return nil
	}

	t1 := valA.Interface().(time.Time)
	t2 := valB.Interface().(time.Time)
	if !t1.Equal(t2) {
		cl.Add(odiff.UPDATE, path, t1, t2)
	}
	return nil
}

func (c TimeComparer) InsertParentDiffer(_ func(path []string, a reflect.Value, b reflect.Value, p interface{}) error) {
}

func leafMatch(t reflect.Type, a, b reflect.Value) bool {
	aok := a.IsValid() && a.Type() == t
	bok := b.IsValid() && b.Type() == t
	return (aok && bok) || (a.Kind() == reflect.Invalid && bok) || (b.Kind() == reflect.Invalid && aok)
}

func interfaceOf(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}
