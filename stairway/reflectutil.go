package stairway

import "reflect"

// typeName returns a stable, human-readable name for the dynamic type
// of v, stripping pointer indirection. Used to key debug fault
// injection and step-class log fields by "class name" the way the
// source keys them by Java class, per spec.md §4.4/§9.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
