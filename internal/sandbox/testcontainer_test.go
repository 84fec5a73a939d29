package sandbox

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
)

func TestApplyResourceLimitsSetsNanoCPUsAndMemory(t *testing.T) {
	hc := &container.HostConfig{}
	applyResourceLimits(hc, LanguageManifest{CPULimit: 1.5, MemoryLimit: 512 << 20})

	assert.Equal(t, int64(1.5e9), hc.Resources.NanoCPUs)
	assert.Equal(t, int64(512<<20), hc.Resources.Memory)
}

func TestApplyResourceLimitsLeavesDefaultsWhenUnset(t *testing.T) {
	hc := &container.HostConfig{}
	applyResourceLimits(hc, LanguageManifest{})

	assert.Zero(t, hc.Resources.NanoCPUs)
	assert.Zero(t, hc.Resources.Memory)
}
