package consequence

import (
	"context"

	"github.com/roach88/modqueue/internal/approvehook"
	"github.com/roach88/modqueue/internal/wiki"
)

// InstallApproveHook registers submitter metadata for the next write of
// (Title, User, ChangeKind). It must run before the write it targets.
type InstallApproveHook struct {
	Title      wiki.Title
	User       wiki.User
	ChangeKind wiki.ChangeKind
	Task       approvehook.Task
}

func (c InstallApproveHook) Kind() Kind { return KindInstallApproveHook }

// Run installs the task. The Value reports whether an earlier task for the
// same key was replaced.
func (c InstallApproveHook) Run(_ context.Context, env *Env) Result {
	if env.Hooks == nil {
		return Fatal(&Failure{Code: CodeStoreRejected, Message: "no approve hook registry configured"})
	}
	replaced := env.Hooks.Install(approvehook.KeyOf(c.Title, c.User, c.ChangeKind), c.Task)
	return OK(replaced)
}
