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

	"github.com/notargets/kernelgen/driver"
	"github.com/notargets/kernelgen/merge"
	"github.com/spf13/cobra"
)

// LimitsCmd represents the limits command
var LimitsCmd = &cobra.Command{
	Use:   "limits <kernel set file>",
	Short: "Print the memory used per category and the conditions that fit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			s     *Session
			out   *merge.Output
			batch int64
			w     = cmd.OutOrStdout()
		)
		if s, err = processInput(args[0]); err != nil {
			return
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			s.Profile.Print(w)
			s.Set.Print(w)
		}
		if out, err = s.Merge(); err != nil {
			return
		}
		fmt.Fprint(w, out.Budget.String())
		for _, h := range out.HostConstants {
			fmt.Fprintf(w, "host constant %s %s\n", h.Name, h.Shape)
		}
		if batch, err = driver.BatchSize(out); err != nil {
			return
		}
		fmt.Fprintf(w, "MAX_PER_RUN = %d\n", batch)
		return
	},
}

func init() {
	rootCmd.AddCommand(LimitsCmd)
	LimitsCmd.Flags().BoolP("verbose", "v", false, "echo the parsed target profile and kernel set")
}
