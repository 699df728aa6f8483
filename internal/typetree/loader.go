package typetree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
)

// catalogFile decodes all top-level blocks a catalog file may contain.
type catalogFile struct {
	Branches  []*branchBlock   `hcl:"branch,block"`
	NodeTypes []*nodeTypeBlock `hcl:"node_type,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type branchBlock struct {
	Name      string           `hcl:"name,label"`
	NodeTypes []*nodeTypeBlock `hcl:"node_type,block"`
}

type nodeTypeBlock struct {
	Type        string    `hcl:"type,label"`
	BaseType    string    `hcl:"basetype"`
	Name        *string   `hcl:"name,optional"`
	Label       *string   `hcl:"label,optional"`
	InputParams []string  `hcl:"ipars,optional"`
	InputTypes  []string  `hcl:"itypes,optional"`
	OutputTypes []string  `hcl:"otypes,optional"`
	Static      *bool     `hcl:"static,optional"`
	Executable  *bool     `hcl:"executable,optional"`
	Editable    *bool     `hcl:"edit,optional"`
	Data        cty.Value `hcl:"data,optional"`
}

// Loader reads HCL catalog files into a Tree.
type Loader struct{}

// NewLoader creates a new catalog loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFiles builds a Tree from every .hcl file found under paths. Paths may
// be files or directories; missing paths are skipped.
func (l *Loader) LoadFiles(ctx context.Context, paths ...string) (*Tree, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.FindFiles(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered catalog files.", "count", len(files))

	tree := New()
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", file, err)
		}
		if err := l.decode(ctx, tree, file, src); err != nil {
			return nil, err
		}
	}
	logger.Debug("Catalog loaded.", "node_types", tree.Len())
	return tree, nil
}

// LoadFS builds a Tree from every .hcl file at the top level of fsys.
func (l *Loader) LoadFS(ctx context.Context, fsys fs.FS) (*Tree, error) {
	names, err := fs.Glob(fsys, "*.hcl")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	tree := New()
	for _, name := range names {
		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", name, err)
		}
		if err := l.decode(ctx, tree, name, src); err != nil {
			return nil, err
		}
	}
	ctxlog.FromContext(ctx).Debug("Embedded catalog loaded.", "files", len(names), "node_types", tree.Len())
	return tree, nil
}

// LoadSource decodes a single catalog document into tree.
func (l *Loader) LoadSource(ctx context.Context, tree *Tree, filename string, src []byte) error {
	return l.decode(ctx, tree, filename, src)
}

func (l *Loader) decode(ctx context.Context, tree *Tree, filename string, src []byte) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse catalog %s: %w", filename, diags)
	}

	var root catalogFile
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode catalog %s: %w", filename, diags)
	}

	for _, block := range root.NodeTypes {
		if err := l.put(tree, "", block); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
	}
	for _, branch := range root.Branches {
		for _, block := range branch.NodeTypes {
			if err := l.put(tree, branch.Name, block); err != nil {
				return fmt.Errorf("%s: %w", filename, err)
			}
		}
	}
	ctxlog.FromContext(ctx).Debug("Catalog file decoded.", "file", filename, "branches", len(root.Branches))
	return nil
}

func (l *Loader) put(tree *Tree, branch string, block *nodeTypeBlock) error {
	data, err := ctyToGo(block.Data)
	if err != nil {
		return fmt.Errorf("node type %q data: %w", block.Type, err)
	}
	var dataMap map[string]any
	if data != nil {
		m, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("node type %q: data must be an object", block.Type)
		}
		dataMap = m
	}

	nt := &NodeType{
		BaseType:    BaseType(block.BaseType),
		Type:        block.Type,
		InputParams: nonNil(block.InputParams),
		InputTypes:  nonNil(block.InputTypes),
		OutputTypes: nonNil(block.OutputTypes),
		Static:      boolOr(block.Static, false),
		Executable:  boolOr(block.Executable, false),
		Editable:    boolOr(block.Editable, true),
		Name:        stringOr(block.Name, block.Type),
		Label:       stringOr(block.Label, shortLabel(block.Type)),
		Data:        dataMap,
	}
	return tree.Put(branch, nt)
}

func shortLabel(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
