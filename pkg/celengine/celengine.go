package celengine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

var (
	envCache = sync.Map{}
	prgCache = sync.Map{}
)

// envKey identifies an attribute shape: sorted names paired with their
// declared CEL type.
func envKey(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k+"="+typeOf(v).String())
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func GetOrBuildEnv(attrs map[string]any) (*cel.Env, error) {
	key := envKey(attrs)
	if v, ok := envCache.Load(key); ok {
		return v.(*cel.Env), nil
	}

	env, err := BuildCelEnvFromAttributes(attrs)
	if err == nil {
		envCache.Store(key, env)
	}

	return env, err
}

func typeOf(val any) *cel.Type {
	switch v := val.(type) {
	case string:
		return cel.StringType
	case int, int32, int64:
		return cel.IntType
	case float32, float64:
		return cel.DoubleType
	case bool:
		return cel.BoolType
	case []string:
		return cel.ListType(cel.StringType)
	case []any:
		if len(v) > 0 {
			if _, ok := v[0].(map[string]any); ok {
				return cel.ListType(cel.MapType(cel.StringType, cel.DynType))
			}
		}
		return cel.ListType(cel.DynType)
	case []map[string]any:
		return cel.ListType(cel.MapType(cel.StringType, cel.DynType))
	case map[string]any:
		return cel.MapType(cel.StringType, cel.DynType)
	default:
		return cel.DynType
	}
}

func BuildCelEnvFromAttributes(attrs map[string]any) (*cel.Env, error) {
	variables := make([]cel.EnvOption, 0, len(attrs))
	for key, val := range attrs {
		t := typeOf(val)
		if t == cel.DynType {
			zap.L().Debug("celengine: declaring attribute as dyn", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", val)))
		}
		variables = append(variables, cel.Variable(key, t))
	}

	return cel.NewEnv(variables...)
}

// ValidateExpression compiles expr against the environment derived from
// attrs and checks that it yields a bool, without evaluating it.
func ValidateExpression(expr string, attrs map[string]any) error {
	env, err := GetOrBuildEnv(attrs)
	if err != nil {
		return err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return fmt.Errorf("expression must yield bool, got %s", ast.OutputType())
	}
	return nil
}

func program(env *cel.Env, envID, expr string) (cel.Program, error) {
	key := envID + "|" + expr
	if v, ok := prgCache.Load(key); ok {
		return v.(cel.Program), nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	prgCache.Store(key, prg)
	return prg, nil
}

// Evaluate compiles expr against the environment derived from attrs and
// requires a boolean result.
func Evaluate(expr string, attrs map[string]any) (bool, error) {
	out, err := EvaluateDynamic(expr, attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out, out)
	}

	return b, nil
}

func EvaluateDynamic(expr string, attrs map[string]any) (any, error) {
	env, err := GetOrBuildEnv(attrs)
	if err != nil {
		return nil, err
	}

	prg, err := program(env, envKey(attrs), expr)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return nil, err
	}

	return out.Value(), nil
}
