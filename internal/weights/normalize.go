package weights

import (
	"fmt"
	"regexp"
	"strings"
)

// Checkpoint keys address submodels as "<...>.models.<id>.<path>", with the
// shared classifier head under a bare "classifier.<path>" namespace.
var submodelKeyRe = regexp.MustCompile(`(?:^|\.)models\.(\d+)\.(.+)$`)

// embedding paths map onto fixed parameter names; the trailing ".weight" is
// dropped and layernorm parameters become gamma/beta.
var embeddingNames = map[string]string{
	"embeddings.word_embeddings.weight":       EmbWord,
	"embeddings.position_embeddings.weight":   EmbPosition,
	"embeddings.token_type_embeddings.weight": EmbTokenType,
	"embeddings.layernorm.weight":             EmbLNGamma,
	"embeddings.layernorm.bias":               EmbLNBeta,
}

// Normalize maps a raw checkpoint key to its (namespace, parameter name)
// pair. The mapping is deterministic and total over the recognized naming
// scheme; anything else yields UnknownNamingPatternError.
func Normalize(key string) (string, string, error) {
	lower := strings.ToLower(key)

	if name, ok := strings.CutPrefix(lower, ClassifierNamespace+"."); ok {
		return ClassifierNamespace, ClassifierNamespace + "_" + strings.ReplaceAll(name, ".", "_"), nil
	}

	m := submodelKeyRe.FindStringSubmatch(lower)
	if m == nil {
		return "", "", &UnknownNamingPatternError{Key: key}
	}
	id, rest := m[1], strings.TrimPrefix(m[2], "bert.")

	name, err := normalizeSubmodelPath(rest)
	if err != nil {
		return "", "", &UnknownNamingPatternError{Key: key}
	}
	return id, name, nil
}

func normalizeSubmodelPath(rest string) (string, error) {
	toks := splitPath(rest)
	if len(toks) < 2 {
		return "", fmt.Errorf("short path %q", rest)
	}

	switch toks[0] {
	case "embeddings":
		name, ok := embeddingNames[strings.Join(toks, ".")]
		if !ok {
			return "", fmt.Errorf("unknown embedding path %q", rest)
		}
		return name, nil

	case "encoder":
		if toks[1] == "layer" && len(toks) >= 4 && isDigits(toks[2]) {
			tail := renameEncoderParam(toks[3:])
			return fmt.Sprintf("l%s_%s", toks[2], strings.Join(tail, "_")), nil
		}
		// Encoder-level QAT entry covering the final encoder output.
		if strings.Contains(rest, "final_input_quantizer") {
			return "bert_encoder_" + strings.Join(toks[1:], "_"), nil
		}
		return "", fmt.Errorf("unknown encoder path %q", rest)

	case "pooler":
		return "bert_" + strings.Join(toks, "_"), nil

	default:
		return "", fmt.Errorf("unknown path %q", rest)
	}
}

// renameEncoderParam applies the layernorm gamma/beta rename, the
// dense/query/key/value weight -> kernel rename, and the QAT quantizer amax
// renames to the token tail of an encoder-layer parameter path.
func renameEncoderParam(tail []string) []string {
	out := make([]string, len(tail))
	copy(out, tail)
	n := len(out)

	switch {
	case n >= 2 && out[n-2] == "layernorm":
		if out[n-1] == "bias" {
			out[n-1] = "beta"
		} else {
			out[n-1] = "gamma"
		}
	case n >= 2 && out[n-1] == "weight" && isProjection(out[n-2]):
		out[n-1] = "kernel"
	case n >= 3 && out[n-1] == "amax" && isProjection(out[n-3]):
		switch out[n-2] {
		case "weight_quantizer":
			out[n-2] = "kernel"
		case "input_quantizer":
			out[n-2] = "input"
		}
	}
	return out
}

func isProjection(tok string) bool {
	switch tok {
	case "dense", "query", "key", "value":
		return true
	}
	return false
}

// splitPath splits a dotted path into tokens with stray underscores trimmed,
// so "input_quantizer._amax" and "input_quantizer.amax" normalize alike.
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "_")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsKernel reports whether a normalized parameter name is stored in dual
// orientation.
func IsKernel(name string) bool {
	return strings.Contains(name, "kernel")
}

// IsAmax reports whether a normalized parameter name is a QAT calibration
// scale rather than a weight tensor.
func IsAmax(name string) bool {
	return strings.HasSuffix(name, "_amax")
}
