package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/verifier/internal/model"
)

// loadRequests reads verification requests from a YAML or JSON file. A file
// may hold a single request or a list of requests, and YAML files may hold
// several documents.
func loadRequests(path string) ([]model.VerificationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read request file %s", path)
	}

	var reqs []model.VerificationRequest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "parse request file %s", path)
		}
		doc := &node
		if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
			doc = doc.Content[0]
		}
		if doc.Kind == yaml.SequenceNode {
			var batch []model.VerificationRequest
			if err := doc.Decode(&batch); err != nil {
				return nil, eris.Wrapf(err, "decode requests in %s", path)
			}
			reqs = append(reqs, batch...)
			continue
		}
		var req model.VerificationRequest
		if err := doc.Decode(&req); err != nil {
			return nil, eris.Wrapf(err, "decode request in %s", path)
		}
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return nil, eris.Errorf("no requests in %s", path)
	}
	return reqs, nil
}

// requestFiles lists the request files in dir, sorted by name.
func requestFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read request dir %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadRequestsFrom reads requests from a file or from every request file
// in a directory.
func loadRequestsFrom(path string) ([]model.VerificationRequest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return loadRequests(path)
	}

	files, err := requestFiles(path)
	if err != nil {
		return nil, err
	}
	var reqs []model.VerificationRequest
	for _, f := range files {
		batch, err := loadRequests(f)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, batch...)
	}
	return reqs, nil
}
