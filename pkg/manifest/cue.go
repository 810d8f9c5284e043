package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseCUE evaluates a CUE file and collects the objects it defines:
// a single object (a struct with a kind field), a list of objects, or a
// struct whose regular fields are objects. Definitions and hidden fields are
// ignored, so a file may carry #Schema helpers next to its output.
func ParseCUE(data []byte, source string) ([]Descriptor, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(source))
	if err := v.Err(); err != nil {
		return nil, &ParseError{Source: source, Err: fmt.Errorf("compiling CUE: %w", err)}
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &ParseError{Source: source, Err: fmt.Errorf("CUE value is not concrete: %w", err)}
	}

	descs, err := cueObjects(v, source, 0)
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	return descs, nil
}

func cueObjects(v cue.Value, source string, depth int) ([]Descriptor, error) {
	switch v.Kind() {
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		var descs []Descriptor
		for i := 0; iter.Next(); i++ {
			found, err := cueObject(iter.Value(), fmt.Sprintf("%s[%d]", source, i))
			if err != nil {
				return nil, err
			}
			descs = append(descs, found...)
		}
		return descs, nil

	case cue.StructKind:
		if v.LookupPath(cue.ParsePath("kind")).Exists() {
			return cueObject(v, source)
		}
		if depth > 0 {
			return nil, fmt.Errorf("%s: struct has no kind field", source)
		}
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		var descs []Descriptor
		for iter.Next() {
			found, err := cueObjects(iter.Value(), source+"."+iter.Selector().String(), depth+1)
			if err != nil {
				return nil, err
			}
			descs = append(descs, found...)
		}
		return descs, nil
	}

	return nil, fmt.Errorf("%s: expected an object, a list or a struct of objects, got %s", source, v.Kind())
}

func cueObject(v cue.Value, source string) ([]Descriptor, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling CUE to JSON: %w", source, err)
	}
	descs, err := decodeObject(data, source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return descs, nil
}
