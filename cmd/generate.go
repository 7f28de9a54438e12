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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/kernelgen/driver"
	"github.com/notargets/kernelgen/merge"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GenerateCmd represents the generate command
var GenerateCmd = &cobra.Command{
	Use:   "generate <kernel set file>",
	Short: "Write the merged kernels, header, driver and build script of a kernel set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if dir, _ := cmd.Flags().GetString("profile"); dir != "" {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet).Stop()
		}
		var (
			s   *Session
			out *merge.Output
			drv *driver.Driver
		)
		if s, err = processInput(args[0]); err != nil {
			return
		}
		if out, err = s.Merge(); err != nil {
			return
		}
		if drv, err = driver.Generate(out); err != nil {
			return
		}
		files := append(append([]merge.File{}, out.Files...), drv.Files...)
		dir := viper.GetString("output")
		if err = writeFiles(dir, files); err != nil {
			return
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			report(cmd.OutOrStdout(), out, drv, dir, files)
		}
		return
	},
}

func init() {
	rootCmd.AddCommand(GenerateCmd)
	GenerateCmd.Flags().StringP("output", "o", ".", "directory the generated files are written to")
	GenerateCmd.Flags().String("profile", "", "write a CPU profile of the generator to this directory")
	GenerateCmd.Flags().BoolP("quiet", "q", false, "do not print a summary")
	_ = viper.BindPFlag("output", GenerateCmd.Flags().Lookup("output"))
}

// writeFiles writes nothing unless the directory can be created
func writeFiles(dir string, files []merge.File) (err error) {
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	for _, f := range files {
		perm := os.FileMode(0o644)
		if strings.HasSuffix(f.Name, ".sh") {
			perm = 0o755
		}
		if err = os.WriteFile(filepath.Join(dir, f.Name), f.Data, perm); err != nil {
			return
		}
	}
	return
}

func report(w io.Writer, out *merge.Output, drv *driver.Driver, dir string, files []merge.File) {
	fmt.Fprintf(w, "%s, %s\n", out.Root, out.Backend.Lang())
	for _, f := range files {
		fmt.Fprintf(w, "wrote %s (%d bytes)\n", filepath.Join(dir, f.Name), len(f.Data))
	}
	for _, h := range out.HostConstants {
		fmt.Fprintf(w, "host constant %s %s\n", h.Name, h.Shape)
	}
	fmt.Fprintf(w, "%d conditions per call\n", drv.BatchSize)
}
