package validate_test

import (
	"strings"
	"testing"

	"filesafe/internal/model"
	"filesafe/internal/testutil"
	"filesafe/internal/validate"
)

func hasErrorCode(result model.ValidationResult, code string) bool {
	for _, e := range result.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func hasWarningCode(result model.ValidationResult, code string) bool {
	for _, w := range result.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestValidateStructure(t *testing.T) {
	v := validate.New(testutil.NewMockFilesystemManager())

	tests := []struct {
		name     string
		op       *model.FileOperation
		wantCode string
	}{
		{
			name:     "unknown type",
			op:       &model.FileOperation{Type: "truncate", SourcePath: "/a"},
			wantCode: validate.CodeUnknownType,
		},
		{
			name:     "unknown safety level",
			op:       &model.FileOperation{Type: model.OpCreate, TargetPath: "/a", SafetyLevel: 42},
			wantCode: validate.CodeUnknownSafety,
		},
		{
			name:     "move without source",
			op:       &model.FileOperation{Type: model.OpMove, TargetPath: "/b"},
			wantCode: validate.CodeMissingSource,
		},
		{
			name:     "copy without target",
			op:       &model.FileOperation{Type: model.OpCopy, SourcePath: "/a"},
			wantCode: validate.CodeMissingTarget,
		},
		{
			name:     "create without any path",
			op:       &model.FileOperation{Type: model.OpCreate},
			wantCode: validate.CodeMissingTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.op)
			if result.Valid {
				t.Fatal("expected invalid result")
			}
			if !hasErrorCode(result, tt.wantCode) {
				t.Errorf("errors %v missing code %s", result.Errors, tt.wantCode)
			}
		})
	}
}

func TestValidatePathSecurity(t *testing.T) {
	v := validate.New(testutil.NewMockFilesystemManager())

	tests := []struct {
		name string
		path string
	}{
		{"traversal", "/data/../etc/passwd"},
		{"home shortcut", "~/secrets.txt"},
		{"null byte", "/data/a\x00.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(&model.FileOperation{Type: model.OpCreate, TargetPath: tt.path})
			if result.Valid {
				t.Fatal("expected invalid result")
			}
			if !hasErrorCode(result, validate.CodeUnsafePath) {
				t.Errorf("errors %v missing code %s", result.Errors, validate.CodeUnsafePath)
			}
			for _, e := range result.Errors {
				if e.Code == validate.CodeUnsafePath && e.Severity != model.SevCritical {
					t.Errorf("unsafe path severity = %v, want critical", e.Severity)
				}
			}
		})
	}

	t.Run("dotfile is not traversal", func(t *testing.T) {
		result := v.Validate(&model.FileOperation{Type: model.OpCreate, TargetPath: "/data/.config"})
		if hasErrorCode(result, validate.CodeUnsafePath) {
			t.Errorf("dotfile flagged as unsafe: %v", result.Errors)
		}
	})
}

func TestValidateExistence(t *testing.T) {
	t.Run("source must exist", func(t *testing.T) {
		v := validate.New(testutil.NewMockFilesystemManager())
		result := v.Validate(&model.FileOperation{Type: model.OpRead, SourcePath: "/data/missing.txt"})
		if result.Valid || !hasErrorCode(result, validate.CodeSourceMissing) {
			t.Errorf("result = %+v, want source_not_found", result)
		}
	})

	t.Run("maximum safety rejects existing target", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/src.txt", []byte("x"))
		fsmgr.AddFile("/data/dst.txt", []byte("y"))
		v := validate.New(fsmgr)

		result := v.Validate(&model.FileOperation{
			Type:        model.OpCopy,
			SourcePath:  "/data/src.txt",
			TargetPath:  "/data/dst.txt",
			SafetyLevel: model.SafetyMaximum,
		})
		if result.Valid || !hasErrorCode(result, validate.CodeTargetExists) {
			t.Errorf("result = %+v, want target_exists error", result)
		}
	})

	t.Run("enhanced safety warns but stays valid", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/src.txt", []byte("x"))
		fsmgr.AddFile("/data/dst.txt", []byte("y"))
		v := validate.New(fsmgr)

		result := v.Validate(&model.FileOperation{
			Type:        model.OpCopy,
			SourcePath:  "/data/src.txt",
			TargetPath:  "/data/dst.txt",
			SafetyLevel: model.SafetyEnhanced,
		})
		if !result.Valid {
			t.Fatalf("result invalid: %v", result.Errors)
		}
		if !hasWarningCode(result, validate.WarnTargetExists) {
			t.Errorf("warnings %v missing %s", result.Warnings, validate.WarnTargetExists)
		}
	})

	t.Run("create with overwrite disabled rejects existing target", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/dst.txt", []byte("y"))
		v := validate.New(fsmgr)

		no := false
		result := v.Validate(&model.FileOperation{
			Type:       model.OpCreate,
			TargetPath: "/data/dst.txt",
			Overwrite:  &no,
		})
		if result.Valid || !hasErrorCode(result, validate.CodeTargetExists) {
			t.Errorf("result = %+v, want target_exists error", result)
		}
	})

	t.Run("basic safety ignores existing target", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/src.txt", []byte("x"))
		fsmgr.AddFile("/data/dst.txt", []byte("y"))
		v := validate.New(fsmgr)

		result := v.Validate(&model.FileOperation{
			Type:        model.OpCopy,
			SourcePath:  "/data/src.txt",
			TargetPath:  "/data/dst.txt",
			SafetyLevel: model.SafetyBasic,
		})
		if !result.Valid {
			t.Errorf("result invalid: %v", result.Errors)
		}
	})
}

func TestValidatePermissions(t *testing.T) {
	t.Run("delete needs writable source", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/locked.txt", []byte("x"))
		fsmgr.DenyWrite("/data/locked.txt")
		v := validate.New(fsmgr)

		result := v.Validate(&model.FileOperation{Type: model.OpDelete, SourcePath: "/data/locked.txt"})
		if result.Valid || !hasErrorCode(result, validate.CodeSourceNotWritable) {
			t.Errorf("result = %+v, want source_not_writable", result)
		}
	})

	t.Run("move needs writable target parent", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/data/a.txt", []byte("x"))
		fsmgr.AddDirectory("/readonly")
		fsmgr.DenyWrite("/readonly")
		v := validate.New(fsmgr)

		result := v.Validate(&model.FileOperation{
			Type:       model.OpMove,
			SourcePath: "/data/a.txt",
			TargetPath: "/readonly/a.txt",
		})
		if result.Valid || !hasErrorCode(result, validate.CodeParentNotWritable) {
			t.Errorf("result = %+v, want target_parent_not_writable", result)
		}
	})
}

func TestCustomRules(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/a.txt", []byte("x"))

	t.Run("rule errors are appended", func(t *testing.T) {
		v := validate.New(fsmgr)
		v.AddRule(validate.Rule{
			Name: "no-txt",
			Check: func(op *model.FileOperation) ([]model.ValidationError, []model.ValidationWarning) {
				if strings.HasSuffix(op.EffectivePath(), ".txt") {
					return []model.ValidationError{{
						Field: "targetPath", Code: "no_txt", Message: "txt files are banned", Severity: model.SevError,
					}}, nil
				}
				return nil, nil
			},
		})

		result := v.Validate(&model.FileOperation{Type: model.OpRead, SourcePath: "/data/a.txt"})
		if result.Valid || !hasErrorCode(result, "no_txt") {
			t.Errorf("result = %+v, want no_txt error", result)
		}
	})

	t.Run("disabled rule is skipped", func(t *testing.T) {
		v := validate.New(fsmgr)
		called := false
		v.AddRule(validate.Rule{
			Name: "tracer",
			Check: func(op *model.FileOperation) ([]model.ValidationError, []model.ValidationWarning) {
				called = true
				return nil, nil
			},
		})
		v.SetRuleEnabled("tracer", false)

		v.Validate(&model.FileOperation{Type: model.OpRead, SourcePath: "/data/a.txt"})
		if called {
			t.Error("disabled rule was executed")
		}
	})

	t.Run("panicking rule becomes an error", func(t *testing.T) {
		v := validate.New(fsmgr)
		v.AddRule(validate.Rule{
			Name: "bomb",
			Check: func(op *model.FileOperation) ([]model.ValidationError, []model.ValidationWarning) {
				panic("boom")
			},
		})

		result := v.Validate(&model.FileOperation{Type: model.OpRead, SourcePath: "/data/a.txt"})
		if result.Valid || !hasErrorCode(result, validate.CodeRuleFailed) {
			t.Errorf("result = %+v, want custom_rule_failed", result)
		}
	})
}
