package config

import "testing"

const twoSubmodels = `{
  "config_list": [
    {"num_attention_heads": 4, "hidden_size": 16, "intermediate_size": 64, "num_hidden_layers": 2},
    {"num_attention_heads": 8, "hidden_size": 32, "intermediate_size": 128, "num_hidden_layers": 3}
  ]
}`

func TestLoadEnsemble(t *testing.T) {
	t.Parallel()
	models, err := LoadEnsemble([]byte(twoSubmodels), Flags{FP16: true, Int8: true})
	if err != nil {
		t.Fatalf("LoadEnsemble: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 submodels, got %d", len(models))
	}
	if models[0].HeadSize() != 4 {
		t.Fatalf("expected head size 4, got %d", models[0].HeadSize())
	}
	if !models[1].UseFP16 || !models[1].UseInt8 || models[1].UseQAT {
		t.Fatalf("flags not applied: %+v", models[1])
	}
	if models[0].CalibMode {
		t.Fatal("calib mode must not be set on loaded configs")
	}
}

func TestLoadEnsembleEmpty(t *testing.T) {
	t.Parallel()
	if _, err := LoadEnsemble([]byte(`{"config_list": []}`), Flags{}); err == nil {
		t.Fatal("expected error for empty config_list")
	}
}

func TestLoadEnsembleMissingField(t *testing.T) {
	t.Parallel()
	doc := `{"config_list": [{"num_attention_heads": 4, "hidden_size": 16}]}`
	if _, err := LoadEnsemble([]byte(doc), Flags{}); err == nil {
		t.Fatal("expected error for missing intermediate_size")
	}
}

func TestForCalibration(t *testing.T) {
	t.Parallel()
	models, err := LoadEnsemble([]byte(twoSubmodels), Flags{FP16: true, Int8: true})
	if err != nil {
		t.Fatalf("LoadEnsemble: %v", err)
	}

	orig := models[0]
	calib := orig.ForCalibration()
	if !calib.CalibMode || calib.UseFP16 {
		t.Fatalf("calibration clone misconfigured: %+v", calib)
	}
	if orig.CalibMode || !orig.UseFP16 {
		t.Fatalf("original config mutated by ForCalibration: %+v", orig)
	}
	if !calib.UseInt8 {
		t.Fatal("calibration clone must keep int8 enabled")
	}
}
