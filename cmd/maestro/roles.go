package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"maestro/internal/role"
	"maestro/pkg/models"
)

// builtinRoles returns the executors the binary ships with. The named
// stage roles are local stand-ins that acknowledge the work so workflows
// can be exercised without an external agent backend; the shell role runs
// a command from the task input.
func builtinRoles() []role.Role {
	stages := []string{"architect", "developer", "tester", "reviewer", "writer"}

	roles := make([]role.Role, 0, len(stages)+1)
	for _, name := range stages {
		roles = append(roles, localRole(name))
	}
	roles = append(roles, shellRole())
	return roles
}

// localRole acknowledges the task without doing external work.
func localRole(name string) role.Role {
	return role.Func{
		RoleName: name,
		Fn: func(ctx context.Context, t *models.Task, ec *role.Context) (*role.Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			return &role.Result{
				Success: true,
				Output:  fmt.Sprintf("%s handled %s task %s", name, t.Type, t.ID),
				Metadata: map[string]any{
					"executor": "local",
				},
			}, nil
		},
	}
}

// shellRole executes the command given in the task input. The command is
// run through the shell so pipelines and redirection work.
func shellRole() role.Role {
	return role.Func{
		RoleName: "shell",
		Fn: func(ctx context.Context, t *models.Task, ec *role.Context) (*role.Result, error) {
			command, _ := t.Input["command"].(string)
			if strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("shell role requires a command input")
			}

			start := time.Now()
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return &role.Result{
					Success: false,
					Output:  string(out),
					Error:   err.Error(),
					Metadata: map[string]any{
						"executor": "shell",
						"duration": time.Since(start).String(),
					},
				}, nil
			}
			return &role.Result{
				Success: true,
				Output:  string(out),
				Metadata: map[string]any{
					"executor": "shell",
					"duration": time.Since(start).String(),
				},
			}, nil
		},
	}
}
