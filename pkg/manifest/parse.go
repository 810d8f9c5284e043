package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

// File is a manifest file's path and content.
type File struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// ParseMultidoc splits a YAML or JSON stream into objects. Empty documents
// are skipped and List kinds are expanded into their items. source is
// recorded on every descriptor as "<source>#<index>".
func ParseMultidoc(data []byte, source string) ([]Descriptor, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)

	var descs []Descriptor
	for index := 0; ; index++ {
		var raw runtime.RawExtension
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &ParseError{Source: source, Index: index, Err: err}
		}

		doc := bytes.TrimSpace(raw.Raw)
		if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
			continue
		}

		found, err := decodeObject(doc, fmt.Sprintf("%s#%d", source, index))
		if err != nil {
			return nil, &ParseError{Source: source, Index: index, Err: err}
		}
		descs = append(descs, found...)
	}

	return descs, nil
}

// decodeObject turns one JSON document into descriptors, expanding lists.
func decodeObject(doc []byte, source string) ([]Descriptor, error) {
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(doc); err != nil {
		return nil, err
	}
	return expand(obj, source)
}

func expand(obj *unstructured.Unstructured, source string) ([]Descriptor, error) {
	if !obj.IsList() || !strings.HasSuffix(obj.GetKind(), "List") {
		d, err := NewDescriptor(obj, source)
		if err != nil {
			return nil, err
		}
		return []Descriptor{d}, nil
	}

	list, err := obj.ToList()
	if err != nil {
		return nil, fmt.Errorf("reading %s items: %w", obj.GetKind(), err)
	}

	var descs []Descriptor
	for i := range list.Items {
		item := &list.Items[i]
		found, err := expand(item, fmt.Sprintf("%s[%d]", source, i))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		descs = append(descs, found...)
	}
	return descs, nil
}

// Parse dispatches on the file extension. Files that are neither CUE nor
// JSON are read as YAML.
func Parse(f File) ([]Descriptor, error) {
	if strings.EqualFold(filepath.Ext(f.Path), ".cue") {
		return ParseCUE(f.Data, f.Path)
	}
	return ParseMultidoc(f.Data, f.Path)
}

// ParseFiles parses every file in order and rejects duplicate objects.
func ParseFiles(files []File) ([]Descriptor, error) {
	var all []Descriptor
	for _, f := range files {
		descs, err := Parse(f)
		if err != nil {
			return nil, err
		}
		all = append(all, descs...)
	}

	if err := CheckDuplicates(all); err != nil {
		return nil, err
	}
	return all, nil
}

// CheckDuplicates returns a *DuplicateError for the first ID defined twice.
// IDs include the namespace, so call it again after namespace defaulting.
func CheckDuplicates(descs []Descriptor) error {
	seen := make(map[string]string, len(descs))
	for _, d := range descs {
		if first, ok := seen[d.ID()]; ok {
			return &DuplicateError{ID: d.ID(), First: first, Second: d.Source}
		}
		seen[d.ID()] = d.Source
	}
	return nil
}
