package actions

import (
	"context"

	"matrixci/internal/core"
)

// Tools bundles the collaborators behind the built-in actions.
type Tools struct {
	Packages PackageManager
	Tests    TestRunner
	Source   SourceProvider
}

// ShellTools backs every collaborator with commands run by exec.
func ShellTools(exec core.Executor, python string) Tools {
	return Tools{
		Packages: Pip{Exec: exec, Python: python},
		Tests:    Unittest{Exec: exec, Python: python},
		Source:   Git{Exec: exec},
	}
}

// Builtins returns the actions available to `uses:`:
//
//	checkout         with: repository, ref, path
//	install-deps     with: packages
//	install-package  with: path, extras
//	test             with: path
func Builtins(t Tools) core.ActionSet {
	return core.ActionSet{
		"checkout":        core.ActionFunc(t.checkout),
		"install-deps":    core.ActionFunc(t.installDeps),
		"install-package": core.ActionFunc(t.installPackage),
		"test":            core.ActionFunc(t.test),
	}
}

// checkout is a no-op when no repository is configured: the job runs in the
// existing working directory.
func (t Tools) checkout(ctx context.Context, inv core.Invocation) (core.StepOutput, error) {
	repo := inv.Input("repository", inv.Repository)
	if repo == "" {
		return core.StepOutput{Output: "no repository configured, using working directory\n"}, nil
	}
	return t.Source.Checkout(ctx, inv.Request, repo, inv.Input("ref", inv.Revision), inv.Input("path", "."))
}

func (t Tools) installDeps(ctx context.Context, inv core.Invocation) (core.StepOutput, error) {
	return t.Packages.InstallDeps(ctx, inv.Request, splitList(inv.Input("packages", "")))
}

func (t Tools) installPackage(ctx context.Context, inv core.Invocation) (core.StepOutput, error) {
	return t.Packages.InstallLocal(ctx, inv.Request, inv.Input("path", "."), splitList(inv.Input("extras", "")))
}

func (t Tools) test(ctx context.Context, inv core.Invocation) (core.StepOutput, error) {
	return t.Tests.Discover(ctx, inv.Request, inv.Input("path", "."))
}
