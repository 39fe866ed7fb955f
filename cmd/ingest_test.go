package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/verifier/internal/model"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) AddMaterial(ctx context.Context, mat model.Material) (int64, error) {
	args := m.Called(ctx, mat)
	return args.Get(0).(int64), args.Error(1)
}

func TestLoadMaterials(t *testing.T) {
	path := writeFile(t, t.TempDir(), "materials.yaml", `
course_id: 3
title: Cell Biology
chunks:
  - page_number: "1"
    content: Cells are the basic unit of life.
  - content: Mitochondria produce ATP.
---
course_id: 3
title: Syllabus
content: Weekly readings and grading policy.
`)

	materials, err := loadMaterials(path)
	require.NoError(t, err)
	require.Len(t, materials, 2)
	assert.Equal(t, "Cell Biology", materials[0].Title)
	require.Len(t, materials[0].Chunks, 2)
	require.NotNil(t, materials[0].Chunks[0].PageNumber)
	assert.Equal(t, "1", *materials[0].Chunks[0].PageNumber)
	require.NotNil(t, materials[1].Content)
	assert.Empty(t, materials[1].Chunks)
}

func TestLoadMaterials_Invalid(t *testing.T) {
	dir := t.TempDir()

	noCourse := writeFile(t, dir, "nocourse.yaml", "title: Orphan\n")
	_, err := loadMaterials(noCourse)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "material 1")

	emptyChunk := writeFile(t, dir, "emptychunk.yaml", "course_id: 1\nchunks:\n  - content: \"\"\n")
	_, err = loadMaterials(emptyChunk)
	assert.Error(t, err)

	empty := writeFile(t, dir, "empty.yaml", "")
	_, err = loadMaterials(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no materials")
}

func TestIngestMaterials(t *testing.T) {
	w := &mockWriter{}
	w.On("AddMaterial", mock.Anything, mock.MatchedBy(func(m model.Material) bool { return m.Title == "A" })).Return(int64(1), nil)
	w.On("AddMaterial", mock.Anything, mock.MatchedBy(func(m model.Material) bool { return m.Title == "B" })).Return(int64(0), errors.New("disk full"))

	ids, err := ingestMaterials(context.Background(), w, []model.Material{
		{CourseID: 1, Title: "A"},
		{CourseID: 1, Title: "B"},
		{CourseID: 1, Title: "C"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ingest "B"`)
	assert.Equal(t, []int64{1}, ids)
	w.AssertNumberOfCalls(t, "AddMaterial", 2)
}
