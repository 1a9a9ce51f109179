// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	devbin "github.com/oclbin/devbin"
	"github.com/spf13/cobra"
)

var (
	binaryFile       string
	pathToPatch      string
	pathToDump       string
	outFile          string
	deviceName       string
	ignoreIsaPadding bool
	quiet            bool
)

func requireBinExtension(path, flagName string) error {
	if filepath.Ext(path) != ".bin" {
		return fmt.Errorf(".bin extension is expected for binary file (%s)", flagName)
	}
	return nil
}

func runDisasm(cmd *cobra.Command, args []string) error {
	if err := requireBinExtension(binaryFile, "-file"); err != nil {
		return err
	}
	if pathToDump == "" {
		return fmt.Errorf("path to dump folder can't be empty")
	}

	opts := &devbin.Opts{Quiet: quiet}
	file, err := devbin.New(binaryFile, opts)
	if err != nil {
		return fmt.Errorf("error while opening file: %s, reason: %w", binaryFile, err)
	}
	defer file.Close()

	if err := file.Parse(); err != nil {
		return fmt.Errorf("error while parsing file: %s, reason: %w", binaryFile, err)
	}

	d := devbin.NewDisassembler(pathToDump, pathToPatch, opts)
	return d.Decode(file)
}

func runAsm(cmd *cobra.Command, args []string) error {
	if err := requireBinExtension(outFile, "-out"); err != nil {
		return err
	}
	if pathToDump == "" {
		fmt.Fprintln(os.Stderr, "Warning : Path to dump folder not specified - using ./dump as default.")
		pathToDump = "dump"
	}

	opts := &devbin.Opts{IgnoreIsaPadding: ignoreIsaPadding, Quiet: quiet}
	e := devbin.NewEncoder(pathToDump, outFile, opts)
	if deviceName != "" {
		e.Asm.SetProductFamily(deviceName)
	}
	if !e.Asm.IsKnownPlatform() {
		fmt.Fprintln(os.Stderr, "Warning : missing or invalid -device parameter - results may be inaccurate")
	}
	return e.Encode()
}

func main() {

	var rootCmd = &cobra.Command{
		Use:           "ocldump",
		Short:         "An Intel OpenCL GPU device binary disassembler/assembler",
		Long:          "Decodes and re-encodes Intel OpenCL GPU device binaries (ELF container + patch tokens)",
		SilenceUsage:  false,
		SilenceErrors: true,
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print("You are using version 0.1.0")
		},
	}

	var disasmCmd = &cobra.Command{
		Use:   "disasm",
		Short: "Disassemble a device binary",
		Long: `Disassembles an Intel OpenCL GPU device binary into a dump directory:
PTM.txt with the patch-token text form, build options, LLVM/SPIR-V IR and
per-kernel heap files.`,
		RunE: runDisasm,
	}
	disasmCmd.Flags().StringVarP(&binaryFile, "file", "f", "", "OpenCL ELF binary file (.bin)")
	disasmCmd.Flags().StringVarP(&pathToPatch, "patch", "p", "", "folder containing patch-list headers")
	disasmCmd.Flags().StringVarP(&pathToDump, "dump", "d", "", "dumping folder")
	disasmCmd.MarkFlagRequired("file")
	disasmCmd.MarkFlagRequired("dump")

	var asmCmd = &cobra.Command{
		Use:   "asm",
		Short: "Assemble a device binary",
		Long: `Assembles an Intel OpenCL GPU device binary from files previously
generated by 'ocldump disasm' (or compatible with its file naming scheme).`,
		RunE: runAsm,
	}
	asmCmd.Flags().StringVarP(&pathToDump, "dump", "d", "", "input directory containing the disassembled binary (default ./dump)")
	asmCmd.Flags().StringVarP(&deviceName, "device", "", "", "target device of output binary")
	asmCmd.Flags().StringVarP(&outFile, "out", "o", "", "filename for newly assembled binary (.bin)")
	asmCmd.Flags().BoolVarP(&ignoreIsaPadding, "ignore_isa_padding", "", false, "do not add padding to the kernel heap")
	asmCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(asmCmd)
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress diagnostic messages")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
