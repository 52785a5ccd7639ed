package upstream

// Task names the kind of generation being requested. Each task carries its
// own sampling parameters.
type Task string

const (
	TaskCodeGeneration Task = "code_generation"
	TaskDocumentation  Task = "documentation"
	TaskAnalysis       Task = "analysis"
	TaskGitCommit      Task = "git_commit"
	TaskExplanation    Task = "explanation"
)

// Params are the sampling parameters sent with a completion request.
type Params struct {
	Temperature float32
	MaxTokens   int
}

var taskParams = map[Task]Params{
	TaskCodeGeneration: {Temperature: 0.2, MaxTokens: 2000},
	TaskDocumentation:  {Temperature: 0.3, MaxTokens: 1500},
	TaskAnalysis:       {Temperature: 0.1, MaxTokens: 1000},
	TaskGitCommit:      {Temperature: 0.3, MaxTokens: 200},
	TaskExplanation:    {Temperature: 0.3, MaxTokens: 800},
}

// ParamsFor returns the parameters for task, falling back to code generation.
func ParamsFor(task Task) Params {
	if p, ok := taskParams[task]; ok {
		return p
	}
	return taskParams[TaskCodeGeneration]
}
