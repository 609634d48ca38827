package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions loaded from rule directories.
var Extensions = []string{".json", ".yaml", ".yml"}

// FileSource loads rule documents from files and directories on disk.
// A directory contributes every rule file below it in lexical order;
// hidden files are skipped.
type FileSource struct {
	paths         []string
	variablesFile string
	logger        *zap.Logger
}

// NewFileSource creates a file source over paths. variablesFile may be
// empty.
func NewFileSource(paths []string, variablesFile string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{paths: paths, variablesFile: variablesFile, logger: logger}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Paths returns the rule paths and the variables file, if any.
func (s *FileSource) Paths() []string {
	out := append([]string(nil), s.paths...)
	if s.variablesFile != "" {
		out = append(out, s.variablesFile)
	}
	return out
}

// Load reads every configured path. An unreadable or malformed file named
// directly is an error; inside a directory it is logged and skipped.
func (s *FileSource) Load(ctx context.Context) (Bundle, error) {
	var b Bundle
	for _, path := range s.paths {
		if err := ctx.Err(); err != nil {
			return Bundle{}, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return Bundle{}, fmt.Errorf("failed to stat path %q: %w", path, err)
		}
		if !info.IsDir() {
			docs, err := ReadDocuments(path)
			if err != nil {
				return Bundle{}, err
			}
			b.Documents = append(b.Documents, docs...)
			continue
		}
		docs, err := s.loadDirectory(path)
		if err != nil {
			return Bundle{}, err
		}
		b.Documents = append(b.Documents, docs...)
	}

	if s.variablesFile != "" {
		vars, err := ReadVariables(s.variablesFile)
		if err != nil {
			return Bundle{}, err
		}
		b.Variables = vars
	}

	s.logger.Info("loaded rule documents from files",
		zap.Strings("paths", s.paths),
		zap.Int("documents", len(b.Documents)),
		zap.Int("variables", len(b.Variables)))
	return b, nil
}

func (s *FileSource) loadDirectory(dir string) ([]map[string]any, error) {
	var docs []map[string]any
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !HasRuleExtension(path) {
			return nil
		}

		fileDocs, err := ReadDocuments(path)
		if err != nil {
			s.logger.Warn("failed to load rule file, skipping", zap.String("path", path), zap.Error(err))
			return nil
		}
		s.logger.Debug("loaded rule file", zap.String("path", path), zap.Int("documents", len(fileDocs)))
		docs = append(docs, fileDocs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", dir, err)
	}
	return docs, nil
}

// HasRuleExtension reports whether path has one of Extensions.
func HasRuleExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range Extensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// ReadDocuments parses one rule file. JSON files hold a document or an
// array of documents. YAML files may hold several documents separated by
// "---", each a mapping or a sequence of mappings.
func ReadDocuments(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}

	var docs []map[string]any
	if isYAML(path) {
		docs, err = decodeYAMLDocuments(data)
	} else {
		docs, err = decodeJSONDocuments(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule file %q: %w", path, err)
	}
	return docs, nil
}

// ReadVariables parses a JSON or YAML mapping of "$NAME" to a string or a
// list of strings.
func ReadVariables(path string) (types.Variables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file %q: %w", path, err)
	}

	var vars types.Variables
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("failed to parse variables file %q: %w", path, err)
		}
	} else {
		vars, err = decodeJSONVariables(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse variables file %q: %w", path, err)
		}
	}
	if vars == nil {
		vars = types.Variables{}
	}
	return vars, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeYAMLDocuments(data []byte) ([]map[string]any, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))

	var docs []map[string]any
	for {
		var node any
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
		}

		switch v := node.(type) {
		case nil:
		case map[string]any:
			docs = append(docs, v)
		case []any:
			for i, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: item %d is %T", types.ErrMalformedDocument, i, item)
				}
				docs = append(docs, m)
			}
		default:
			return nil, fmt.Errorf("%w: top level is %T", types.ErrMalformedDocument, node)
		}
	}
}
