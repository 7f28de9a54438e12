/*
Package InputParameters reads the YAML input files of the generator: the target
profile, the memory limits and the kernel set. YAML is converted by ghodss/yaml,
so scalars land in string fields whatever their YAML type and are parsed here.
*/
package InputParameters

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ghodss/yaml"
)

func readYAML(path string, into interface{}) (err error) {
	var data []byte
	if data, err = os.ReadFile(path); err != nil {
		return
	}
	if err = yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return
}

func sortedKeys[V any](m map[string]V) (keys []string) {
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return
}

// printField is one aligned "value = Name" line of the Print listings
func printField(w io.Writer, name string, value interface{}) {
	fmt.Fprintf(w, "%-24v= %s\n", value, name)
}
