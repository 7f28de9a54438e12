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
	"github.com/notargets/kernelgen/utils"
	"github.com/spf13/cobra"
)

// PlanCmd represents the plan command
var PlanCmd = &cobra.Command{
	Use:   "plan <kernel set file>",
	Short: "Print the batches the generated driver runs for a problem size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			s   *Session
			out *merge.Output
			bm  *utils.BatchMap
			w   = cmd.OutOrStdout()
		)
		n, _ := cmd.Flags().GetInt("problemSize")
		if s, err = processInput(args[0]); err != nil {
			return
		}
		if out, err = s.Merge(); err != nil {
			return
		}
		d := &driver.Driver{Name: out.Root + "_driver"}
		if d.BatchSize, err = driver.BatchSize(out); err != nil {
			return
		}
		if bm, err = d.Plan(n); err != nil {
			return
		}
		fmt.Fprintf(w, "%d conditions in %d batches of at most %d\n", bm.ProblemSize, bm.NumBatches(), bm.BatchSize)
		for i, b := range bm.Batches {
			fmt.Fprintf(w, "batch %d: [%d, %d)\n", i, b[0], b[1])
		}
		if cmd.Flags().Changed("condition") {
			k, _ := cmd.Flags().GetInt("condition")
			slot, size, bn := bm.GetLocalK(k)
			if bn < 0 {
				return fmt.Errorf("condition %d is outside [0, %d)", k, n)
			}
			fmt.Fprintf(w, "condition %d: batch %d slot %d of %d\n", k, bn, slot, size)
		}
		return
	},
}

func init() {
	rootCmd.AddCommand(PlanCmd)
	PlanCmd.Flags().IntP("problemSize", "n", 0, "number of conditions to evaluate")
	PlanCmd.Flags().IntP("condition", "k", 0, "also locate this condition in its batch")
}
