/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/notargets/kernelgen/InputParameters"
	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/merge"
	"github.com/notargets/kernelgen/target"
	"github.com/spf13/viper"
)

// Session is the parsed input of one command
type Session struct {
	Profile *InputParameters.TargetProfile
	Options target.Options
	Limits  *memory.Limits
	Set     *InputParameters.KernelSet
	Root    *merge.Group
}

// processInput reads the target profile named by --target, its memory limits
// (--limits wins over the profile's own entry, which is relative to the profile)
// and the kernel set.
func processInput(kernelSetFile string) (s *Session, err error) {
	s = &Session{}
	profileFile := viper.GetString("target")
	if profileFile == "" {
		return nil, fmt.Errorf("must supply a target profile (-t, --target), for example:%s", exampleProfile)
	}
	if s.Profile, err = InputParameters.ReadTargetProfile(profileFile); err != nil {
		return nil, err
	}
	if s.Options, err = s.Profile.Options(); err != nil {
		return nil, err
	}
	limitsFile := viper.GetString("limits")
	if limitsFile == "" && s.Profile.Limits != "" {
		limitsFile = s.Profile.Limits
		if !filepath.IsAbs(limitsFile) {
			limitsFile = filepath.Join(filepath.Dir(profileFile), limitsFile)
		}
	}
	if limitsFile != "" {
		var ml *InputParameters.MemoryLimits
		if ml, err = InputParameters.ReadMemoryLimits(limitsFile); err != nil {
			return nil, err
		}
		if s.Limits, err = ml.Limits(); err != nil {
			return nil, err
		}
	}
	if s.Set, err = InputParameters.ReadKernelSet(kernelSetFile); err != nil {
		return nil, err
	}
	if s.Root, err = s.Set.Build(s.Options.Order); err != nil {
		return nil, err
	}
	return
}

func (s *Session) Merge() (out *merge.Output, err error) {
	var e *merge.Engine
	if e, err = merge.New(s.Options, s.Limits); err != nil {
		return
	}
	return e.Generate(s.Root)
}

const exampleProfile = `
########################################
language: opencl
width: 4 # or auto, or depth: 4 with order: F
order: C
platform: Intel
device_type: CPU
limits: limits.yaml
########################################
`
