package tools

// constructors is the catalogue in the order tools/list reports it.
var constructors = []func(*Deps) Tool{
	newHealthCheck,
	newGenerateSimpleCode,
	newCompleteCode,
	newExplainCode,
	newGenerateDocstrings,
	newGenerateTests,
	newRefactorSimpleCode,
	newFixSimpleBugs,
	newGenerateGitCommitMessage,
	newGitStatus,
	newGitAdd,
	newGitDiff,
	newGitLog,
	newGitCommit,
	newReadFile,
	newWriteFile,
	newCreateDirectoryStructure,
	newExecuteDevCommand,
}

// NewDefaultRegistry registers the full tool catalogue against deps.
func NewDefaultRegistry(deps *Deps) (*Registry, error) {
	deps = deps.withDefaults()
	r := NewRegistry(deps)
	for _, build := range constructors {
		if err := r.Register(build(deps)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
