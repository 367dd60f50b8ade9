package bypass

import (
	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/image"
	"github.com/gand3lf/unpin/internal/infra"
)

// recordingJob implements JobRecorder for tests.
type recordingJob struct {
	observations []*engine.Hook
	replacements []domain.Address
	recordErr    error
}

func (j *recordingJob) RecordObservation(h *engine.Hook) error {
	if j.recordErr != nil {
		return j.recordErr
	}
	j.observations = append(j.observations, h)
	return nil
}

func (j *recordingJob) RecordReplacement(addr domain.Address, h *engine.Hook) error {
	if j.recordErr != nil {
		return j.recordErr
	}
	j.replacements = append(j.replacements, addr)
	return nil
}

func (j *recordingJob) total() int {
	return len(j.observations) + len(j.replacements)
}

// newTestEnv builds a strategy environment over a synthetic image.
func newTestEnv(reg *image.Registry) (*Env, *recordingJob) {
	job := &recordingJob{}
	env := &Env{
		Image:     reg,
		Resolver:  engine.NewResolver(reg),
		Installer: engine.NewInstaller(reg),
		Job:       job,
		Log:       infra.NewNopSink(),
	}
	return env, job
}
