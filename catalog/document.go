package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/Masterminds/semver/v3"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"

	"github.com/jeremaih2/avatarsystem/wearable"
)

// SupportedDocumentVersions is the range of document versions this package can read.
const SupportedDocumentVersions = ">= 1.0.0, < 2.0.0"

const documentSchemaURL = "catalog-document.schema.json"

// Document is the on-disk representation of a catalog.
//
//	version: "1.0.0"
//	baseUrl: https://peer.example/content/contents/
//	wearables:
//	  - id: urn:decentraland:off-chain:base-avatars:BaseFemale
//	    category: body_shape
//	    representations:
//	      - bodyShapes: [urn:decentraland:off-chain:base-avatars:BaseFemale]
//	        mainFile: female.glb
//	        contents:
//	          - key: female.glb
//	            hash: QmFemale
type Document struct {
	// Version is the semantic version of the document format.
	Version string `json:"version"`
	// BaseURL is applied to every wearable that does not declare its own.
	BaseURL   string                `json:"baseUrl,omitempty"`
	Wearables []wearable.Descriptor `json:"wearables"`
}

var documentConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint(SupportedDocumentVersions)
	if err != nil {
		panic(err)
	}
	return c
}()

// DocumentSchema returns the JSON schema of Document.
func DocumentSchema() ([]byte, error) {
	r := &invopop.Reflector{
		Anonymous: true,
		Mapper:    mapCategory,
	}
	return json.MarshalIndent(r.Reflect(&Document{}), "", "  ")
}

func mapCategory(t reflect.Type) *invopop.Schema {
	if t != reflect.TypeFor[wearable.Category]() {
		return nil
	}
	enum := make([]any, 0, len(wearable.Categories))
	for _, c := range wearable.Categories {
		enum = append(enum, string(c))
	}
	return &invopop.Schema{Type: "string", Enum: enum}
}

var compiledDocumentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	raw, err := DocumentSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to reflect catalog document schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog document schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add catalog document schema: %w", err)
	}
	return compiler.Compile(documentSchemaURL)
})

// ParseDocument decodes and validates a YAML or JSON catalog document.
func ParseDocument(data []byte) (*Document, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert catalog document to json: %w", err)
	}
	schema, err := compiledDocumentSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog document: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("catalog document does not match schema: %w", err)
	}

	doc := &Document{}
	if err := json.Unmarshal(jsonData, doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadDocument reads and parses the catalog document at path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog document: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("catalog document %s: %w", path, err)
	}
	return doc, nil
}

// Validate checks the document version and every wearable it contains.
func (d *Document) Validate() error {
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return fmt.Errorf("invalid catalog document version %q: %w", d.Version, err)
	}
	if !documentConstraint.Check(v) {
		return fmt.Errorf("unsupported catalog document version %s, supported: %s", v, SupportedDocumentVersions)
	}

	var errs []error
	seen := make(map[string]struct{}, len(d.Wearables))
	for i := range d.Wearables {
		w := &d.Wearables[i]
		if _, dup := seen[w.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate wearable id %s", w.ID))
		}
		seen[w.ID] = struct{}{}
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

// Catalog returns a Memory catalog holding the document's wearables.
// Wearables without a base URL inherit the document's.
func (d *Document) Catalog() *Memory {
	m := NewMemory()
	for _, w := range d.Wearables {
		if w.BaseURL == "" {
			w.BaseURL = d.BaseURL
		}
		m.Add(&w)
	}
	return m
}
