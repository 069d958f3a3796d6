package weights

// Attention parameter suffixes, appended to a layer prefix such as
// "l0_attention_".
const (
	WQ   = "self_query_kernel"
	BQ   = "self_query_bias"
	WK   = "self_key_kernel"
	BK   = "self_key_bias"
	WV   = "self_value_kernel"
	BV   = "self_value_bias"
	WQKV = "self_qkv_kernel"
	BQKV = "self_qkv_bias"
)

// Transformer parameter suffixes, appended to a layer prefix such as "l0_".
const (
	WAttnOut      = "attention_output_dense_kernel"
	BAttnOut      = "attention_output_dense_bias"
	AttnOutLNBeta = "attention_output_layernorm_beta"
	AttnOutLNGam  = "attention_output_layernorm_gamma"
	WMid          = "intermediate_dense_kernel"
	BMid          = "intermediate_dense_bias"
	WLayerOut     = "output_dense_kernel"
	BLayerOut     = "output_dense_bias"
	LayerLNBeta   = "output_layernorm_beta"
	LayerLNGamma  = "output_layernorm_gamma"
)

// Embedding, pooler and classifier parameter names. The pooler keeps its
// checkpoint "weight" spelling; it is consumed whole rather than repacked.
const (
	EmbWord       = "bert_embeddings_word_embeddings"
	EmbPosition   = "bert_embeddings_position_embeddings"
	EmbTokenType  = "bert_embeddings_token_type_embeddings"
	EmbLNGamma    = "bert_embeddings_layernorm_gamma"
	EmbLNBeta     = "bert_embeddings_layernorm_beta"
	PoolerWeight  = "bert_pooler_dense_weight"
	PoolerBias    = "bert_pooler_dense_bias"
	ClassifierW   = "classifier_weight"
	ClassifierB   = "classifier_bias"
	EncoderFinalQ = "bert_encoder_final_input_quantizer_amax"
)

// ClassifierNamespace is the shared namespace id for the classifier head.
const ClassifierNamespace = "classifier"
