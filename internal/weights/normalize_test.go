package weights

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		key    string
		wantNS string
		want   string
	}{
		{"ensemble.models.0.bert.embeddings.word_embeddings.weight", "0", EmbWord},
		{"ensemble.models.0.bert.embeddings.position_embeddings.weight", "0", EmbPosition},
		{"models.1.bert.embeddings.token_type_embeddings.weight", "1", EmbTokenType},
		{"models.1.bert.embeddings.LayerNorm.bias", "1", EmbLNBeta},
		{"models.1.bert.embeddings.LayerNorm.weight", "1", EmbLNGamma},
		{"ensemble.models.0.bert.encoder.layer.3.attention.self.query.weight", "0", "l3_attention_self_query_kernel"},
		{"ensemble.models.0.bert.encoder.layer.3.attention.self.key.bias", "0", "l3_attention_self_key_bias"},
		{"ensemble.models.0.bert.encoder.layer.0.attention.output.dense.weight", "0", "l0_" + WAttnOut},
		{"ensemble.models.0.bert.encoder.layer.0.attention.output.LayerNorm.weight", "0", "l0_" + AttnOutLNGam},
		{"ensemble.models.0.bert.encoder.layer.0.attention.output.LayerNorm.bias", "0", "l0_" + AttnOutLNBeta},
		{"ensemble.models.0.bert.encoder.layer.2.intermediate.dense.weight", "0", "l2_" + WMid},
		{"ensemble.models.0.bert.encoder.layer.2.output.dense.bias", "0", "l2_" + BLayerOut},
		{"ensemble.models.0.bert.encoder.layer.2.output.LayerNorm.weight", "0", "l2_" + LayerLNGamma},
		{"models.0.bert.encoder.layer.0.attention.self.qv_a_input_quantizer._amax", "0", "l0_attention_self_qv_a_input_quantizer_amax"},
		{"models.0.bert.encoder.layer.0.output.dense.input_quantizer._amax", "0", "l0_output_dense_input_amax"},
		{"models.0.bert.encoder.layer.0.attention.self.query.weight_quantizer._amax", "0", "l0_attention_self_query_kernel_amax"},
		{"models.0.bert.encoder.layer.0.attention.self.query.input_quantizer._amax", "0", "l0_attention_self_query_input_amax"},
		{"models.0.bert.encoder.final_input_quantizer._amax", "0", EncoderFinalQ},
		{"ensemble.models.0.bert.pooler.dense.weight", "0", PoolerWeight},
		{"ensemble.models.0.bert.pooler.dense.bias", "0", PoolerBias},
		{"classifier.weight", ClassifierNamespace, ClassifierW},
		{"classifier.bias", ClassifierNamespace, ClassifierB},
	}

	for _, tc := range cases {
		ns, name, err := Normalize(tc.key)
		if err != nil {
			t.Errorf("Normalize(%q): %v", tc.key, err)
			continue
		}
		if ns != tc.wantNS || name != tc.want {
			t.Errorf("Normalize(%q) = (%q, %q), want (%q, %q)", tc.key, ns, name, tc.wantNS, tc.want)
		}
	}
}

func TestNormalizeUnknownKey(t *testing.T) {
	t.Parallel()
	for _, key := range []string{
		"optimizer.step",
		"models.0.bert.cls.predictions.bias",
		"models.0.bert.embeddings.unknown_table.weight",
		"global_step",
	} {
		_, _, err := Normalize(key)
		var unknown *UnknownNamingPatternError
		if !errors.As(err, &unknown) {
			t.Errorf("Normalize(%q): expected UnknownNamingPatternError, got %v", key, err)
		}
	}
}

func TestIsKernel(t *testing.T) {
	t.Parallel()
	if !IsKernel("l0_" + WQKV) {
		t.Error("fused qkv kernel should be dual-orientation")
	}
	if IsKernel(PoolerWeight) {
		t.Error("pooler weight keeps single orientation")
	}
	if !IsAmax("l0_output_dense_input_amax") {
		t.Error("amax entry not detected")
	}
}
