package bundler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// InputKind tags the shape of an input specification.
type InputKind int

const (
	// InputAbsent means the configuration declared no input.
	InputAbsent InputKind = iota
	// InputSingle is one bare entry path.
	InputSingle
	// InputList is an ordered list of entry paths.
	InputList
	// InputMapping maps entry names to entry paths.
	InputMapping
)

// String returns the string representation of the InputKind
func (k InputKind) String() string {
	switch k {
	case InputAbsent:
		return "absent"
	case InputSingle:
		return "single"
	case InputList:
		return "list"
	case InputMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// InputSpec is the bundler input specification in one of four shapes. The
// shape the user chose is preserved through merging.
type InputSpec struct {
	Kind    InputKind
	Single  string
	List    []string
	Mapping map[string]string
}

// NoInput returns the absent specification.
func NoInput() InputSpec {
	return InputSpec{Kind: InputAbsent}
}

// SingleInput returns a specification holding one bare path.
func SingleInput(path string) InputSpec {
	return InputSpec{Kind: InputSingle, Single: path}
}

// ListInput returns a list specification.
func ListInput(paths ...string) InputSpec {
	list := make([]string, len(paths))
	copy(list, paths)
	return InputSpec{Kind: InputList, List: list}
}

// MappingInput returns a name to path specification.
func MappingInput(m map[string]string) InputSpec {
	mapping := make(map[string]string, len(m))
	for k, v := range m {
		mapping[k] = v
	}
	return InputSpec{Kind: InputMapping, Mapping: mapping}
}

// MergeInputs combines the user's input specification with the sources
// discovered while rendering. The result keeps the user's shape:
//
//	absent  -> discovered as a list
//	list    -> existing entries followed by discovered
//	mapping -> existing entries plus discovered under identity keys
//	single  -> [single, discovered...]
//
// Existing mapping entries are never overwritten.
func MergeInputs(existing InputSpec, discovered []string) InputSpec {
	switch existing.Kind {
	case InputAbsent:
		return ListInput(discovered...)
	case InputList:
		merged := make([]string, 0, len(existing.List)+len(discovered))
		merged = append(merged, existing.List...)
		merged = append(merged, discovered...)
		return InputSpec{Kind: InputList, List: merged}
	case InputMapping:
		merged := MappingInput(existing.Mapping)
		for _, key := range discovered {
			if _, taken := merged.Mapping[key]; !taken {
				merged.Mapping[key] = key
			}
		}
		return merged
	case InputSingle:
		merged := make([]string, 0, len(discovered)+1)
		merged = append(merged, existing.Single)
		merged = append(merged, discovered...)
		return InputSpec{Kind: InputList, List: merged}
	default:
		panic(fmt.Sprintf("bundler: unknown input kind %d", existing.Kind))
	}
}

// Entry is one bundler entry point. Name is empty when the bundler chooses
// the output name itself.
type Entry struct {
	Name   string
	Source string
}

// Entries flattens the specification into entry points. Mapping entries are
// ordered by name so bundler invocations are reproducible.
func (s InputSpec) Entries() []Entry {
	switch s.Kind {
	case InputSingle:
		return []Entry{{Source: s.Single}}
	case InputList:
		entries := make([]Entry, 0, len(s.List))
		for _, p := range s.List {
			entries = append(entries, Entry{Source: p})
		}
		return entries
	case InputMapping:
		names := make([]string, 0, len(s.Mapping))
		for name := range s.Mapping {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]Entry, 0, len(names))
		for _, name := range names {
			entries = append(entries, Entry{Name: name, Source: s.Mapping[name]})
		}
		return entries
	default:
		return nil
	}
}

// Len returns the number of entry points.
func (s InputSpec) Len() int {
	switch s.Kind {
	case InputSingle:
		return 1
	case InputList:
		return len(s.List)
	case InputMapping:
		return len(s.Mapping)
	default:
		return 0
	}
}

// ParseInputSpec converts a decoded configuration value (YAML, JSON or TOML)
// into an InputSpec.
func ParseInputSpec(raw interface{}) (InputSpec, error) {
	switch v := raw.(type) {
	case nil:
		return NoInput(), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return NoInput(), nil
		}
		return SingleInput(filepath.FromSlash(v)), nil
	case []string:
		return ListInput(fromSlashAll(v)...), nil
	case []interface{}:
		list := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return InputSpec{}, fmt.Errorf("input[%d]: expected string, got %T", i, item)
			}
			list = append(list, filepath.FromSlash(s))
		}
		return ListInput(list...), nil
	case map[string]string:
		m := make(map[string]string, len(v))
		for k, p := range v {
			m[k] = filepath.FromSlash(p)
		}
		return MappingInput(m), nil
	case map[string]interface{}:
		m := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return InputSpec{}, fmt.Errorf("input.%s: expected string, got %T", k, item)
			}
			m[k] = filepath.FromSlash(s)
		}
		return MappingInput(m), nil
	default:
		return InputSpec{}, fmt.Errorf("input: unsupported type %T", raw)
	}
}

func fromSlashAll(in []string) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = filepath.FromSlash(p)
	}
	return out
}
