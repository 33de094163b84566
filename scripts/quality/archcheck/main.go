package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "chanpub/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "arch-check: passed\n")
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "arch-check: architecture violations:\n")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list -json -test ./...: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	result := make([]listedPackage, 0, 64)
	for {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath == "" {
			continue
		}
		result = append(result, pkg)
	}

	return result, nil
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})

	for _, pkg := range packages {
		imports := append([]string{}, pkg.Imports...)
		imports = append(imports, pkg.TestImports...)
		imports = append(imports, pkg.XTestImports...)

		for _, imported := range imports {
			reason := violationReason(pkg.ImportPath, imported)
			if reason == "" {
				continue
			}
			entry := fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)
			found[entry] = struct{}{}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

func violationReason(importer, imported string) string {
	if !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}

	if strings.HasPrefix(importer, modulePrefix+"pkg/stream") &&
		!strings.HasPrefix(imported, modulePrefix+"pkg/stream") {
		return "pkg/stream must not import other chanpub packages"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/eventloop") &&
		!strings.HasPrefix(imported, modulePrefix+"internal/eventloop") {
		return "internal/eventloop must not import other chanpub packages"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/channel") &&
		!strings.HasPrefix(imported, modulePrefix+"internal/channel") &&
		imported != modulePrefix+"internal/eventloop" {
		return "internal/channel may only import internal/eventloop"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/producer") &&
		strings.HasPrefix(imported, modulePrefix+"internal/publisher") {
		return "internal/producer must not import internal/publisher"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/publisher") &&
		(strings.HasPrefix(imported, modulePrefix+"internal/conformance") ||
			strings.HasPrefix(imported, modulePrefix+"internal/config")) {
		return "internal/publisher must not import internal/conformance or internal/config"
	}

	if strings.HasPrefix(importer, modulePrefix+"internal/") &&
		strings.HasPrefix(imported, modulePrefix+"cmd/") {
		return "internal/* must not import cmd/*"
	}

	return ""
}
