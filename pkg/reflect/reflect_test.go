package reflect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	names  []string
	values []float64
}

func (t *fakeTarget) Size() int           { return len(t.values) }
func (t *fakeTarget) Resize(n int)        { t.names = make([]string, n); t.values = make([]float64, n) }
func (t *fakeTarget) Reserve(n int)       {}
func (t *fakeTarget) SetName(i int, s string)  { t.names[i] = s }
func (t *fakeTarget) SetValue(i int, v float64) { t.values[i] = v }

type sample struct {
	Duration float64
	Size     int
	Vec      [3]float32
}

func TestStructReflectorHappyPath(t *testing.T) {
	src := sample{Duration: 1.5, Size: 3, Vec: [3]float32{3.4, 2.2, 2.1}}
	target := &fakeTarget{}

	require.NoError(t, StructReflector{}.Reflect(target, src, true))

	assert.Equal(t, []string{"Duration", "Size", "Vec[0]", "Vec[1]", "Vec[2]"}, target.names)
	require.Len(t, target.values, 5)
	assert.InDelta(t, 1.5, target.values[0], 1e-9)
	assert.InDelta(t, 3, target.values[1], 1e-9)
	assert.InDelta(t, 3.4, target.values[2], 1e-5)
}

type variableShape struct {
	Values []float64
}

func TestStructReflectorShapeChange(t *testing.T) {
	target := &fakeTarget{}

	require.NoError(t, StructReflector{}.Reflect(target, variableShape{Values: nil}, false))
	assert.Equal(t, 0, target.Size())

	require.NoError(t, StructReflector{}.Reflect(target, variableShape{Values: []float64{1}}, false))
	assert.Equal(t, 1, target.Size())

	require.NoError(t, StructReflector{}.Reflect(target, variableShape{Values: []float64{1, 2}}, false))
	assert.Equal(t, 2, target.Size())
}

func TestStructReflectorRejectsNonStruct(t *testing.T) {
	err := StructReflector{}.Reflect(&fakeTarget{}, 5, false)
	assert.Error(t, err)
}

type nested struct {
	Inner sample
	Flag  bool
}

func TestStructReflectorNestedAndBool(t *testing.T) {
	target := &fakeTarget{}
	src := nested{Inner: sample{Duration: 1, Size: 2, Vec: [3]float32{0, 0, 0}}, Flag: true}

	require.NoError(t, StructReflector{}.Reflect(target, src, false))
	assert.Contains(t, target.names, "Inner.Duration")
	assert.Contains(t, target.names, "Flag")
}
