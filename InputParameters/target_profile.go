package InputParameters

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
)

// TargetProfile is the code generation target read from a YAML file
type TargetProfile struct {
	Language   string   `json:"language"`
	Width      string   `json:"width"` // lane count or "auto"
	Depth      int      `json:"depth"`
	Order      string   `json:"order"`
	Platform   string   `json:"platform"`
	DeviceType string   `json:"device_type"`
	WorkSize   int      `json:"work_size"`
	IsSIMD     bool     `json:"is_simd"`
	Unroll     int      `json:"unroll"`
	ILP        bool     `json:"ilp"`
	CLVersion  string   `json:"cl_version"`
	Compiler   string   `json:"compiler"`
	CFlags     []string `json:"cflags"`
	Limits     string   `json:"limits"` // memory limits file
}

func (tp *TargetProfile) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, tp); err != nil {
		return fmt.Errorf("target profile: %w", err)
	}
	return nil
}

func ReadTargetProfile(path string) (tp *TargetProfile, err error) {
	tp = &TargetProfile{}
	if err = readYAML(path, tp); err != nil {
		return nil, err
	}
	return
}

// Options converts the profile to backend options. A width of "auto" takes the
// float64 lane count of this machine's widest SIMD unit, and no vectorization
// when that is a single lane or the language cannot vectorize.
func (tp *TargetProfile) Options() (opts target.Options, err error) {
	opts = target.Options{
		Lang:       target.Language(strings.ToLower(tp.Language)),
		Depth:      tp.Depth,
		Platform:   tp.Platform,
		DeviceType: target.DeviceType(strings.ToUpper(tp.DeviceType)),
		WorkSize:   tp.WorkSize,
		IsSIMD:     tp.IsSIMD,
		Unroll:     tp.Unroll,
		ILP:        tp.ILP,
		CLVersion:  tp.CLVersion,
		Compiler:   tp.Compiler,
		CFlags:     tp.CFlags,
	}
	switch w := strings.TrimSpace(tp.Width); {
	case w == "" || w == "0":
	case strings.EqualFold(w, "auto"):
		if n := target.HostVectorWidth(); n > 1 && opts.Lang != target.C {
			opts.Width = n
		}
	default:
		if opts.Width, err = strconv.Atoi(w); err != nil || opts.Width < 0 {
			err = fmt.Errorf("target profile: width %q is not a lane count or auto", tp.Width)
			return
		}
	}
	if opts.Order, err = types.ParseOrder(tp.Order); err != nil {
		err = fmt.Errorf("target profile: %w", err)
	}
	return
}

func (tp *TargetProfile) Print(w io.Writer) {
	printField(w, "Language", "["+tp.Language+"]")
	if tp.Width != "" {
		printField(w, "Width", tp.Width)
	}
	if tp.Depth > 0 {
		printField(w, "Depth", tp.Depth)
	}
	printField(w, "Order", "["+tp.Order+"]")
	if tp.Platform != "" {
		printField(w, "Platform", "\""+tp.Platform+"\"")
	}
	if tp.DeviceType != "" {
		printField(w, "DeviceType", "["+tp.DeviceType+"]")
	}
	if tp.WorkSize > 0 {
		printField(w, "WorkSize", tp.WorkSize)
	}
	if tp.Unroll > 1 {
		printField(w, "Unroll", tp.Unroll)
	}
	if tp.Limits != "" {
		printField(w, "Limits", "\""+tp.Limits+"\"")
	}
}
