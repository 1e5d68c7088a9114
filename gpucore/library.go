package gpucore

import (
	"fmt"
	"sort"
)

type staticLibrary map[string]Program

// NewLibrary returns an immutable library holding the given programs.
// It panics if two programs share a name.
func NewLibrary(programs ...Program) Library {
	lib := make(staticLibrary, len(programs))
	for _, p := range programs {
		if _, dup := lib[p.Name]; dup {
			panic(fmt.Sprintf("gpucore: duplicate program %q", p.Name))
		}
		lib[p.Name] = p
	}
	return lib
}

func (l staticLibrary) Lookup(name string) (Program, bool) {
	p, ok := l[name]
	return p, ok
}

func (l staticLibrary) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
