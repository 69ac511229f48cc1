// Command check_openapi verifies that every service's OpenAPI document
// declares the same ErrorResponse envelope, so clients can handle errors
// from any service uniformly.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type schemaShape struct {
	Type       string
	Required   []string
	Properties map[string]propertyShape
}

type propertyShape struct {
	Type     string
	ItemsRef string
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <service-openapi.yaml> <service-openapi.yaml>...\n", os.Args[0])
		os.Exit(2)
	}
	paths := os.Args[1:]

	var reference schemaShape
	var referencePath string
	for i, path := range paths {
		doc, err := loadDoc(path)
		if err != nil {
			exitErr(err)
		}
		errSchema, err := getSchema(doc, "ErrorResponse")
		if err != nil {
			exitErr(fmt.Errorf("%s: %w", path, err))
		}
		if err := validateErrorResponse(path, errSchema); err != nil {
			exitErr(err)
		}
		shape := shapeFromSchema(errSchema)
		if i == 0 {
			reference = shape
			referencePath = path
			continue
		}
		if err := ensureSameShape("ErrorResponse", referencePath, reference, path, shape); err != nil {
			exitErr(err)
		}
	}

	fmt.Println("OpenAPI consistency check passed.")
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(scope string, s schema) error {
	if s.Type != "object" {
		return fmt.Errorf("%s: ErrorResponse must be object", scope)
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("%s: ErrorResponse.required must include %q", scope, field)
		}
	}
	errorProp, ok := s.Properties["error"]
	if !ok || errorProp.Type != "string" {
		return fmt.Errorf("%s: ErrorResponse.error must be string", scope)
	}
	codeProp, ok := s.Properties["code"]
	if !ok || codeProp.Type != "string" {
		return fmt.Errorf("%s: ErrorResponse.code must be string", scope)
	}
	reqIDProp, ok := s.Properties["requestId"]
	if !ok || reqIDProp.Type != "string" {
		return fmt.Errorf("%s: ErrorResponse.requestId must be string", scope)
	}
	return nil
}

func shapeFromSchema(s schema) schemaShape {
	out := schemaShape{
		Type:       s.Type,
		Required:   append([]string(nil), s.Required...),
		Properties: make(map[string]propertyShape, len(s.Properties)),
	}
	sort.Strings(out.Required)
	for name, prop := range s.Properties {
		shape := propertyShape{Type: prop.Type}
		if prop.Items != nil {
			shape.ItemsRef = strings.TrimSpace(prop.Items.Ref)
		}
		out.Properties[name] = shape
	}
	return out
}

func ensureSameShape(name, leftPath string, left schemaShape, rightPath string, right schemaShape) error {
	if left.Type != right.Type {
		return fmt.Errorf("%s type mismatch between %s and %s: %q vs %q", name, leftPath, rightPath, left.Type, right.Type)
	}
	if strings.Join(left.Required, ",") != strings.Join(right.Required, ",") {
		return fmt.Errorf("%s required mismatch between %s and %s: %v vs %v", name, leftPath, rightPath, left.Required, right.Required)
	}
	if len(left.Properties) != len(right.Properties) {
		return fmt.Errorf("%s property count mismatch between %s and %s: %d vs %d", name, leftPath, rightPath, len(left.Properties), len(right.Properties))
	}
	for key, leftProp := range left.Properties {
		rightProp, ok := right.Properties[key]
		if !ok {
			return fmt.Errorf("%s property %q missing in %s", name, key, rightPath)
		}
		if leftProp != rightProp {
			return fmt.Errorf("%s property %q mismatch between %s and %s: %+v vs %+v", name, key, leftPath, rightPath, leftProp, rightProp)
		}
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
