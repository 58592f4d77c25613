package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_AllProbesFailReturnsBaseline(t *testing.T) {
	snap := Detect(context.Background(), &FakeProbe{}, zerolog.Nop())

	assert.Equal(t, uint64(512), snap.MaxMemoryMB)
	assert.Equal(t, uint32(1), snap.MaxConcurrentModels)
	assert.Equal(t, []Precision{PrecisionFP16}, snap.Precisions())
	assert.Equal(t, SourceBaseline, snap.Source)
	assert.False(t, snap.DetectedAt.IsZero())
}

func TestDetect_CPUBrandHasFinalWord(t *testing.T) {
	snap := Detect(context.Background(), AppleSiliconProbe("M2"), zerolog.Nop())

	assert.Equal(t, SourceCPUBrand, snap.Source)
	assert.Equal(t, uint64(2048), snap.MaxMemoryMB)
	assert.Equal(t, uint32(16), snap.ComputeUnits)
	assert.Equal(t, uint32(8), snap.MaxConcurrentModels)
	assert.True(t, snap.Supports(PrecisionFP32))
	assert.Equal(t, "M2", snap.Generation)
}

func TestDetect_BrandOverridesRegistryUpgrade(t *testing.T) {
	p := AppleSiliconProbe("M1")
	snap := Detect(context.Background(), p, zerolog.Nop())

	// registry reported 16 cores but the M1 table entry wins
	assert.Equal(t, uint32(8), snap.ComputeUnits)
	assert.Equal(t, uint32(4), snap.MaxConcurrentModels)
	assert.Equal(t, uint64(1024), snap.MaxMemoryMB)
	assert.False(t, snap.Supports(PrecisionFP32))
}

func TestDetect_SummaryOnly(t *testing.T) {
	p := &FakeProbe{Outputs: map[string]string{
		QueryHardwareSummary: "Chip: Apple M3 Pro\n",
	}}
	snap := Detect(context.Background(), p, zerolog.Nop())

	assert.Equal(t, SourceHardwareSummary, snap.Source)
	assert.Equal(t, uint64(4096), snap.MaxMemoryMB)
	assert.Equal(t, uint32(32), snap.ComputeUnits)
	assert.Equal(t, uint32(16), snap.MaxConcurrentModels)
}

func TestDetect_GenericAppleThenRegistryRefines(t *testing.T) {
	p := &FakeProbe{Outputs: map[string]string{
		QueryHardwareSummary:  "Chip: Apple Silicon (unknown)\n",
		QueryHardwareRegistry: "\"ANE\" = <>\n\"ANE\" cores = 8-core\n",
		QueryCPUBrand:         "Apple processor\n",
	}}
	snap := Detect(context.Background(), p, zerolog.Nop())

	// the brand carries no generation, so the registry candidate stands
	assert.Equal(t, SourceHardwareRegistry, snap.Source)
	assert.Equal(t, uint64(512), snap.MaxMemoryMB)
	assert.Equal(t, uint32(8), snap.ComputeUnits)
	assert.Equal(t, uint32(4), snap.MaxConcurrentModels)
	assert.Equal(t, []Precision{PrecisionFP16, PrecisionINT8}, snap.Precisions())
}

func TestDetect_RegistryIgnoresGPUCoreCounts(t *testing.T) {
	p := &FakeProbe{Outputs: map[string]string{
		QueryHardwareSummary:  "Chip: Apple Silicon (unknown)\n",
		QueryHardwareRegistry: "\"ANE\" = 16-core\n\"gpu-core-count\" = 38-core GPU\n",
	}}
	snap := Detect(context.Background(), p, zerolog.Nop())

	assert.Equal(t, SourceHardwareRegistry, snap.Source)
	assert.Equal(t, uint32(16), snap.ComputeUnits)
	assert.Equal(t, uint32(8), snap.MaxConcurrentModels)
}

func TestHasCoreCount(t *testing.T) {
	assert.True(t, hasCoreCount("Neural Engine: 16-core", "16"))
	assert.True(t, hasCoreCount("ANE 8 core", "8"))
	assert.True(t, hasCoreCount("ANE 38-core, 8-core", "8"))
	assert.False(t, hasCoreCount("ANE 38-core", "8"))
	assert.False(t, hasCoreCount("ANE", "8"))
}

func TestDetect_SummaryNeedsApplePrefixForGeneration(t *testing.T) {
	p := &FakeProbe{Outputs: map[string]string{
		QueryHardwareSummary: "Model Identifier: Mac14,2\nSerial Number: C02M1XYZ\nChip: Apple Silicon\n",
	}}
	snap := Detect(context.Background(), p, zerolog.Nop())

	assert.Equal(t, SourceHardwareSummary, snap.Source)
	assert.Equal(t, "", snap.Generation)
	assert.Equal(t, uint64(512), snap.MaxMemoryMB)
}

func TestDetect_NonAppleSummaryIsIgnored(t *testing.T) {
	p := &FakeProbe{
		Outputs: map[string]string{QueryHardwareSummary: "Processor Name: Intel Core i9\n"},
		Errors:  map[string]error{QueryCPUBrand: errors.New("boom")},
	}
	snap := Detect(context.Background(), p, zerolog.Nop())
	assert.Equal(t, SourceBaseline, snap.Source)
}

func TestDetect_RegistryWithoutAcceleratorMarkerFails(t *testing.T) {
	p := &FakeProbe{Outputs: map[string]string{QueryHardwareRegistry: "+-o gpu 16-core\n"}}
	snap := Detect(context.Background(), p, zerolog.Nop())
	assert.Equal(t, SourceBaseline, snap.Source)
	assert.Equal(t, uint32(2), snap.ComputeUnits)
}

func TestSnapshotPrecisionsAreCopies(t *testing.T) {
	snap := generations[1].snapshot(SourceCPUBrand)
	ps := snap.Precisions()
	ps[0] = "bogus"
	require.True(t, snap.Supports(PrecisionFP16))
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision(" INT8 ")
	require.NoError(t, err)
	assert.Equal(t, PrecisionINT8, p)

	_, err = ParsePrecision("bf16")
	assert.Error(t, err)
}
