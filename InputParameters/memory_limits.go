package InputParameters

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ghodss/yaml"
	"github.com/notargets/kernelgen/memory"
)

// MemoryLimits are per category byte limits, e.g. "64kB" or "2GB"
type MemoryLimits struct {
	Global           string `json:"global"`
	Local            string `json:"local"`
	Constant         string `json:"constant"`
	Alloc            string `json:"alloc"`
	LimitIntOverflow bool   `json:"limit_int_overflow"`
}

func (ml *MemoryLimits) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, ml); err != nil {
		return fmt.Errorf("memory limits: %w", err)
	}
	return nil
}

func ReadMemoryLimits(path string) (ml *MemoryLimits, err error) {
	ml = &MemoryLimits{}
	if err = readYAML(path, ml); err != nil {
		return nil, err
	}
	return
}

func (ml *MemoryLimits) sizes() map[string]string {
	return map[string]string{
		memory.Global.String():   ml.Global,
		memory.Local.String():    ml.Local,
		memory.Constant.String(): ml.Constant,
		memory.Alloc.String():    ml.Alloc,
	}
}

// Limits converts the file to byte limits; an empty entry leaves the
// backend default in place.
func (ml *MemoryLimits) Limits() (limits *memory.Limits, err error) {
	limits = &memory.Limits{Bytes: make(map[memory.Category]int64), LimitIntOverflow: ml.LimitIntOverflow}
	for name, size := range ml.sizes() {
		if size == "" {
			continue
		}
		var (
			c memory.Category
			n int64
		)
		if c, err = memory.ParseCategory(name); err != nil {
			return nil, err
		}
		if n, err = ParseBytes(size); err != nil {
			return nil, fmt.Errorf("memory limits: %s: %w", name, err)
		}
		limits.Bytes[c] = n
	}
	return
}

var byteUnits = map[string]float64{
	"":   1,
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
	"tb": 1 << 40,
}

// ParseBytes reads a byte count with an optional binary unit: 512, 64kB, 1.5 GB
func ParseBytes(s string) (n int64, err error) {
	s = strings.TrimSpace(s)
	split := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
	if split < 0 {
		split = len(s)
	}
	var (
		num  = s[:split]
		unit = strings.ToLower(strings.TrimSpace(s[split:]))
		v    float64
	)
	mult, ok := byteUnits[unit]
	if !ok {
		err = fmt.Errorf("unknown byte unit in %q", s)
		return
	}
	if v, err = strconv.ParseFloat(num, 64); err != nil {
		err = fmt.Errorf("byte count %q: %w", s, err)
		return
	}
	if v = v * mult; v < 0 || v >= math.MaxInt64 {
		err = fmt.Errorf("byte count %q out of range", s)
		return
	}
	n = int64(v)
	return
}

func (ml *MemoryLimits) Print(w io.Writer) {
	sizes := ml.sizes()
	for _, key := range sortedKeys(sizes) {
		if sizes[key] != "" {
			printField(w, "Limit["+key+"]", sizes[key])
		}
	}
	printField(w, "LimitIntOverflow", ml.LimitIntOverflow)
}
