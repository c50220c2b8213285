package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		EnvMinLen, EnvMaxLen, EnvRejectWeak, EnvLegacyWrites,
		EnvArgonMemory, EnvArgonIter, EnvArgonParallel, EnvArgonSaltLen, EnvArgonKeyLen,
	} {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 6 || cfg.Policy.MaxLength != 20 {
		t.Fatalf("policy mismatch: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != DefaultConfig().Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
	if cfg.LegacyDigestWrites {
		t.Fatalf("legacy writes should default off")
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv(EnvMinLen, "8")
	t.Setenv(EnvMaxLen, "64")
	t.Setenv(EnvRejectWeak, "true")
	t.Setenv(EnvLegacyWrites, "on")
	t.Setenv(EnvArgonMemory, "32768")
	t.Setenv(EnvArgonIter, "4")
	t.Setenv(EnvArgonParallel, "2")
	t.Setenv(EnvArgonSaltLen, "24")
	t.Setenv(EnvArgonKeyLen, "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Policy.MinLength != 8 || cfg.Policy.MaxLength != 64 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if !cfg.LegacyDigestWrites {
		t.Fatalf("legacy override failed")
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"min>max":    {EnvMinLen, "30"},
		"not int":    {EnvMaxLen, "abc"},
		"bad bool":   {EnvRejectWeak, "maybe"},
		"memory low": {EnvArgonMemory, "1024"},
		"parallel 0": {EnvArgonParallel, "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
