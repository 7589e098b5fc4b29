package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type printer interface {
	print(w io.Writer, v any) error
}

func newPrinter(format string) (printer, error) {
	switch format {
	case "json":
		return jsonPrinter{}, nil
	case "yaml", "":
		return yamlPrinter{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want json or yaml)", format)
}

type jsonPrinter struct{}

func (jsonPrinter) print(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type yamlPrinter struct{}

func (yamlPrinter) print(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
