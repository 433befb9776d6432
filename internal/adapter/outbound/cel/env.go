package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// NewConditionEnvironment creates the CEL environment side-effect conditions
// are compiled in. Variables:
//   - input: the validated action input (JSON form)
//   - output: the action result data (JSON form)
//   - caller: map with user_id, tenant_id, roles, type
//   - action: the action ID
//
// Custom functions: glob(pattern, s).
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.CrossTypeNumericComparisons(true),

		cel.Variable("input", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.Variable("caller", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					n, _ := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}
