// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package config loads the configuration of the batch tools.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gitlab.com/accumulatenetwork/odatabatch/internal/logging"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/batch/mediatype"
	"gitlab.com/accumulatenetwork/odatabatch/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	file string
	fs   fs.FS

	// DotEnv enables ${VAR} expansion from a .env file next to the
	// configuration file.
	DotEnv *bool `json:"dotEnv,omitempty"`

	Reader  Reader  `json:"reader"`
	Logging Logging `json:"logging"`
}

type Reader struct {
	ContentType               string `json:"contentType,omitempty" validate:"required,batch-content-type"`
	BufferSize                int    `json:"bufferSize,omitempty" validate:"omitempty,min=4"`
	MaxPartsPerBatch          int    `json:"maxPartsPerBatch,omitempty" validate:"min=-1"`
	MaxOperationsPerChangeset int    `json:"maxOperationsPerChangeset,omitempty" validate:"min=-1"`
	Responses                 bool   `json:"responses,omitempty"`
}

type Logging struct {
	Level  string `json:"level,omitempty" validate:"log-levels"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=plain text json"`
}

// Overrides are values set on the command line. A nil field leaves the loaded
// value alone.
type Overrides struct {
	ContentType *string
	Responses   *bool
	BufferSize  *int
	LogLevel    *string
	LogFormat   *string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: Logging{
			Level:  "error",
			Format: "plain",
		},
	}
}

// Resolve returns the effective configuration: the defaults, then file if it
// is not empty, then o. The result is validated.
func Resolve(file string, o Overrides) (*Config, error) {
	c := Default()
	if file != "" {
		err := c.LoadFrom(file)
		if err != nil {
			return nil, err
		}
	}

	c.Apply(o)
	err := c.Validate()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Apply overlays the non-nil overrides.
func (c *Config) Apply(o Overrides) {
	set(&c.Reader.ContentType, o.ContentType)
	set(&c.Reader.Responses, o.Responses)
	set(&c.Reader.BufferSize, o.BufferSize)
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Logging.Format, o.LogFormat)
}

func set[T any](dst, v *T) {
	if v != nil {
		*dst = *v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their configuration file keys
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return camel2kebab(name)
	})

	err := v.RegisterValidation("batch-content-type", func(fl validator.FieldLevel) bool {
		_, err := mediatype.Parse(fl.Field().String(), mediatype.KindBatch)
		return err == nil
	})
	if err != nil {
		panic(err)
	}

	err = v.RegisterValidation("log-levels", func(fl validator.FieldLevel) bool {
		_, err := logging.ParseLevels(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(err)
	}

	v.RegisterStructValidation(validateReader, Reader{})
	return v
}

// validateReader checks that the scan buffer can hold the batch boundary
// line. Changeset boundaries are only known once the payload is read.
func validateReader(sl validator.StructLevel) {
	r := sl.Current().Interface().(Reader)
	if r.BufferSize == 0 {
		return
	}
	ct, err := mediatype.Parse(r.ContentType, mediatype.KindBatch)
	if err != nil {
		return
	}
	need := boundaryLineSize(ct.Boundary)
	if r.BufferSize < need {
		sl.ReportError(r.BufferSize, "buffer-size", "BufferSize", "boundary-line", strconv.Itoa(need))
	}
}

// boundaryLineSize is the length of the longest line a boundary can appear
// on: CRLF "--" boundary "--" CRLF.
func boundaryLineSize(boundary string) int {
	return len(boundary) + 8
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return errors.BadRequest.WithFormat("invalid configuration: %w", err)
	}

	msgs := make([]string, len(fields))
	for i, fe := range fields {
		msgs[i] = describe(fe)
	}
	return errors.BadRequest.WithFormat("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "batch-content-type":
		return fmt.Sprintf("%s %q is not a multipart/mixed type with a boundary", key, fe.Value())
	case "log-levels":
		return fmt.Sprintf("%s %q is not a valid level list", key, fe.Value())
	case "boundary-line":
		return fmt.Sprintf("%s %v cannot hold the %s byte batch boundary line", key, fe.Value(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", key, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", key, fe.Tag())
}

// ReaderOptions returns the batch reader options described by the
// configuration.
func (c *Config) ReaderOptions() batch.Options {
	return batch.Options{
		BufferSize:                c.Reader.BufferSize,
		Responses:                 c.Reader.Responses,
		MaxPartsPerBatch:          c.Reader.MaxPartsPerBatch,
		MaxOperationsPerChangeset: c.Reader.MaxOperationsPerChangeset,
	}
}

// LoadFrom loads a file. The .env file for ${VAR} expansion is looked up in
// the same directory.
func (c *Config) LoadFrom(file string) error {
	return c.LoadFromFS(os.DirFS(filepath.Dir(file)), filepath.Base(file))
}

func (c *Config) LoadFromFS(fs fs.FS, file string) error {
	var format func([]byte, any) error
	switch s := filepath.Ext(file); s {
	case ".toml", ".tml", ".ini":
		format = toml.Unmarshal
	case ".yaml", ".yml":
		format = yaml.Unmarshal
	case ".json":
		format = json.Unmarshal
	default:
		return errors.BadRequest.WithFormat("unknown file type %s", s)
	}

	b, err := readFile(fs, file)
	if err != nil {
		return errors.BadRequest.WithFormat("read configuration: %w", err)
	}

	c.file = file
	c.fs = fs
	err = c.Load(b, format)
	if err != nil {
		return errors.BadRequest.WithFormat("load %s: %w", file, err)
	}
	return nil
}

func readFile(fs fs.FS, file string) ([]byte, error) {
	f, err := fs.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Load decodes b over the current values and expands ${VAR} references. It
// does not validate, since command line overrides may still be applied.
func (c *Config) Load(b []byte, format func([]byte, any) error) error {
	var v any
	err := format(b, &v)
	if err != nil {
		return err
	}

	v = remap(v, kebab2camel, nil)
	b, err = json.Marshal(v)
	if err != nil {
		return err
	}

	err = json.Unmarshal(b, c)
	if err != nil {
		return err
	}

	return c.applyDotEnv()
}

func (c *Config) applyDotEnv() error {
	if c.DotEnv == nil || !*c.DotEnv {
		return nil
	}
	if c.fs == nil {
		return errors.BadRequest.With("dot-env requires a configuration file")
	}

	file := ".env"
	if c.file != "" {
		dir := filepath.Dir(c.file)
		file = filepath.Join(dir, file)
	}

	var expand func(name string) string
	var errs []error

	f, err := c.fs.Open(file)
	switch {
	case err == nil:
		defer func() { _ = f.Close() }()

		env, err := godotenv.Parse(f)
		if err != nil {
			return err
		}

		expand = func(name string) string {
			value, ok := env[name]
			if ok {
				return value
			}
			errs = append(errs, fmt.Errorf("%q is not defined", name))
			return fmt.Sprintf("#!MISSING(%q)", name)
		}

	case errors.Is(err, fs.ErrNotExist):
		// Only return an error if there is at least one ${ENV}
		expand = func(name string) string {
			if len(errs) == 0 {
				errs = append(errs, err)
			}
			return fmt.Sprintf("#!MISSING(%q)", name)
		}

	default:
		return err
	}

	expandEnv(reflect.ValueOf(c), expand)
	return errors.Join(errs...)
}

// SaveTo writes the configuration to file, in the format given by its
// extension. ${VAR} references have already been expanded, so dot-env is not
// written.
func (c *Config) SaveTo(file string) error {
	var format func(any) ([]byte, error)
	switch s := filepath.Ext(file); s {
	case ".toml", ".tml", ".ini":
		format = MarshalTOML
	case ".yaml", ".yml":
		format = yaml.Marshal
	case ".json":
		format = json.Marshal
	default:
		return errors.BadRequest.WithFormat("unknown file type %s", s)
	}

	d := *c
	d.DotEnv = nil
	b, err := d.Marshal(format)
	if err != nil {
		return err
	}

	err = os.WriteFile(file, b, 0600)
	if err != nil {
		return errors.BadRequest.WithFormat("save configuration: %w", err)
	}
	return nil
}

func MarshalTOML(a any) ([]byte, error) {
	b := new(bytes.Buffer)
	e := toml.NewEncoder(b)
	err := e.Encode(a)
	return b.Bytes(), err
}

func (c *Config) Marshal(format func(any) ([]byte, error)) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	var v any
	err = json.Unmarshal(b, &v)
	if err != nil {
		return nil, err
	}

	v = remap(v, camel2kebab, float2int)
	return format(v)
}

func remap(v any, mapKey func(string) string, mapValue func(reflect.Value) any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		u := make([]any, rv.Len())
		for i := range u {
			u[i] = remap(rv.Index(i).Interface(), mapKey, mapValue)
		}
		return u

	case reflect.Map:
		u := make(map[string]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			u[mapKey(it.Key().String())] = remap(it.Value().Interface(), mapKey, mapValue)
		}
		return u

	default:
		if mapValue != nil {
			return mapValue(rv)
		}
		return v
	}
}

var reKebab = regexp.MustCompile(`-[a-z]`)
var reCamel = regexp.MustCompile(`[a-z][A-Z]+`)

func kebab2camel(s string) string {
	return reKebab.ReplaceAllStringFunc(s, func(s string) string {
		return strings.ToUpper(s[1:])
	})
}

func camel2kebab(s string) string {
	return strings.ToLower(reCamel.ReplaceAllStringFunc(s, func(s string) string {
		return s[:1] + "-" + s[1:]
	}))
}

func float2int(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		// If the float has no fractional part, convert it to an int
		v := v.Float()
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	case reflect.Invalid:
		return nil
	default:
		return v.Interface()
	}
}

func expandEnv(v reflect.Value, expand func(string) string) {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		s = os.Expand(s, expand)
		v.SetString(s)

	case reflect.Pointer, reflect.Interface:
		expandEnv(v.Elem(), expand)

	case reflect.Struct:
		typ := v.Type()
		for i, n := 0, typ.NumField(); i < n; i++ {
			if typ.Field(i).IsExported() {
				expandEnv(v.Field(i), expand)
			}
		}
	}
}
