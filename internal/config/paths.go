package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "repovec"

// CollectionName derives the vector collection name for a repository.
// Any character outside [A-Za-z0-9_-] is replaced with an underscore so the
// name is safe for the vector store.
func CollectionName(prefix, repoName string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range repoName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CloneDir returns the local clone directory for a repository, creating it
// on first use.
func (c *Config) CloneDir(repoName string) (string, error) {
	base, err := resolveBase(c.RepositoriesBasePath, "repositories")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, repoName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create clone dir: %w", err)
	}
	return dir, nil
}

// VocabPath returns the vocabulary file path for a collection. The parent
// directory is created on first use.
func (c *Config) VocabPath(collection string) (string, error) {
	base, err := resolveBase(c.VocabularyBasePath, "vocabularies")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create vocabulary dir: %w", err)
	}
	return filepath.Join(base, collection+".vocab.json"), nil
}

// RegistryPath returns the path of the repository registry document under
// the user config directory.
func RegistryPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, appDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return filepath.Join(dir, "repositories.json"), nil
}

// HistoryPath returns the path of the sync history log under the user
// config directory.
func HistoryPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, appDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return filepath.Join(dir, "sync-history.jsonl"), nil
}

// resolveBase picks the first available base path: explicit config, the
// platform data dir, then the current directory.
func resolveBase(explicit, sub string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, appDirName, sub), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve base path: %w", err)
	}
	return filepath.Join(cwd, "."+appDirName, sub), nil
}
