package mcp

// Param is one tool argument.
type Param struct {
	Name        string
	Type        string // string, number, array or object
	Description string
	Required    bool
	Enum        []string
}

// Tool maps an MCP tool onto one API call.
//
// Path may contain {name} placeholders filled from required string arguments. Query lists
// optional arguments appended as query parameters; Body lists arguments sent as a JSON object.
type Tool struct {
	Name        string
	Description string
	Method      string
	Path        string
	Query       []string
	Body        []string
	Params      []Param

	// Endpoint is the priced path used for the cost and category shown to clients. Empty means
	// Path without placeholders.
	Endpoint string
}

func addressParam(desc string) Param {
	return Param{Name: "address", Type: "string", Description: desc, Required: true}
}

func txidParam() Param {
	return Param{Name: "txid", Type: "string", Description: "Transaction ID", Required: true}
}

// DefaultTools is the Bitcoin data API surface exposed over MCP.
var DefaultTools = []Tool{
	// Core
	{Name: "btcfi_get_fees", Description: "Get current Bitcoin fee rates with USD estimates.", Method: "GET", Path: "/api/v1/fees"},
	{Name: "btcfi_get_mempool", Description: "Get Bitcoin mempool summary including tx count, size, fee histogram.", Method: "GET", Path: "/api/v1/mempool"},
	{Name: "btcfi_get_address", Description: "Get Bitcoin address info including balance, tx count, funded/spent stats.", Method: "GET",
		Path: "/api/v1/address/{address}", Endpoint: "/api/v1/address", Params: []Param{addressParam("Bitcoin address")}},
	{Name: "btcfi_get_utxos", Description: "Get unspent transaction outputs (UTXOs) for a Bitcoin address.", Method: "GET",
		Path: "/api/v1/address/{address}/utxos", Endpoint: "/api/v1/address", Params: []Param{addressParam("Bitcoin address")}},
	{Name: "btcfi_get_address_txs", Description: "Get transaction history for a Bitcoin address.", Method: "GET",
		Path: "/api/v1/address/{address}/txs", Endpoint: "/api/v1/address", Params: []Param{addressParam("Bitcoin address")}},
	{Name: "btcfi_get_tx", Description: "Get full details of a Bitcoin transaction.", Method: "GET",
		Path: "/api/v1/tx/{txid}", Endpoint: "/api/v1/tx", Params: []Param{txidParam()}},
	{Name: "btcfi_get_tx_status", Description: "Get confirmation status of a Bitcoin transaction.", Method: "GET",
		Path: "/api/v1/tx/{txid}/status", Endpoint: "/api/v1/tx", Params: []Param{txidParam()}},
	{Name: "btcfi_broadcast_tx", Description: "Broadcast a signed Bitcoin transaction to the network.", Method: "POST",
		Path: "/api/v1/tx/broadcast", Body: []string{"txHex"},
		Params: []Param{{Name: "txHex", Type: "string", Description: "Signed transaction hex", Required: true}}},
	{Name: "btcfi_get_block", Description: "Get a Bitcoin block by height or hash.", Method: "GET",
		Path: "/api/v1/block/{id}", Endpoint: "/api/v1/block",
		Params: []Param{{Name: "id", Type: "string", Description: "Block height or hash", Required: true}}},
	{Name: "btcfi_get_latest_blocks", Description: "Get the most recent Bitcoin blocks.", Method: "GET",
		Path: "/api/v1/block/latest", Query: []string{"limit"},
		Params: []Param{{Name: "limit", Type: "number", Description: "Number of blocks (default 10)"}}},

	// Intelligence
	{Name: "btcfi_consolidation_advice", Description: "Get UTXO consolidation advice for a Bitcoin address.", Method: "GET",
		Path: "/api/v1/intelligence/consolidate/{address}", Endpoint: "/api/v1/intelligence/consolidate", Params: []Param{addressParam("Bitcoin address")}},
	{Name: "btcfi_fee_prediction", Description: "Fee prediction for 1h, 6h, and 24h windows.", Method: "GET", Path: "/api/v1/intelligence/fees"},
	{Name: "btcfi_whale_alert", Description: "Detect large Bitcoin transactions and whale movements.", Method: "GET", Path: "/api/v1/intelligence/whales"},
	{Name: "btcfi_address_risk", Description: "Risk score for a Bitcoin address based on transaction patterns.", Method: "GET",
		Path: "/api/v1/intelligence/risk/{address}", Endpoint: "/api/v1/intelligence/risk", Params: []Param{addressParam("Bitcoin address")}},
	{Name: "btcfi_network_health", Description: "Bitcoin network health: hashrate, mempool congestion, difficulty.", Method: "GET", Path: "/api/v1/intelligence/network"},

	// Security
	{Name: "btcfi_threat_analysis", Description: "Pattern-based threat analysis for a Bitcoin address.", Method: "GET",
		Path: "/api/v1/security/threat/{address}", Endpoint: "/api/v1/security/threat", Params: []Param{addressParam("Bitcoin address")}},

	// Staking
	{Name: "btcfi_staking_status", Description: "Check staking tier status for a wallet address.", Method: "GET",
		Path: "/api/v1/staking/status", Query: []string{"address"},
		Params: []Param{{Name: "address", Type: "string", Description: "Wallet address"}}},

	// Solv
	{Name: "btcfi_solv_reserves", Description: "SolvBTC total supply across chains with backing ratio and TVL.", Method: "GET", Path: "/api/v1/solv/reserves"},
	{Name: "btcfi_solv_yield", Description: "xSolvBTC yield data: APY, yield strategies, comparisons.", Method: "GET", Path: "/api/v1/solv/yield"},
	{Name: "btcfi_solv_liquidity", Description: "Cross-chain SolvBTC liquidity distribution.", Method: "GET",
		Path: "/api/v1/solv/liquidity", Query: []string{"chain"},
		Params: []Param{{Name: "chain", Type: "string", Description: "Filter by chain", Enum: []string{"ethereum", "bnb", "arbitrum"}}}},
	{Name: "btcfi_solv_risk", Description: "Multi-factor risk assessment for Solv Protocol.", Method: "GET", Path: "/api/v1/solv/risk"},

	// ZK
	{Name: "btcfi_zk_balance_proof", Description: "Generate ZK balance range proof.", Method: "POST",
		Path: "/api/v1/zk/balance-proof", Body: []string{"address", "threshold", "unit"},
		Params: []Param{
			addressParam("Bitcoin address"),
			{Name: "threshold", Type: "number", Description: "Minimum balance", Required: true},
			{Name: "unit", Type: "string", Description: "Threshold unit (default sats)", Enum: []string{"btc", "sats"}},
		}},
	{Name: "btcfi_zk_age_proof", Description: "Generate ZK UTXO age proof.", Method: "POST",
		Path: "/api/v1/zk/age-proof", Body: []string{"address", "minBlocks"},
		Params: []Param{
			addressParam("Bitcoin address"),
			{Name: "minBlocks", Type: "number", Description: "Minimum UTXO age in blocks", Required: true},
		}},
	{Name: "btcfi_zk_membership", Description: "Generate ZK set membership proof.", Method: "POST",
		Path: "/api/v1/zk/membership", Body: []string{"address", "setRoot", "merkleProof"},
		Params: []Param{
			addressParam("Bitcoin address"),
			{Name: "setRoot", Type: "string", Description: "Merkle root of the set", Required: true},
			{Name: "merkleProof", Type: "array", Description: "Merkle path", Required: true},
		}},
	{Name: "btcfi_zk_verify", Description: "Verify any BTCFi ZK proof.", Method: "POST",
		Path: "/api/v1/zk/verify", Body: []string{"proofType", "proof", "publicInputs"},
		Params: []Param{
			{Name: "proofType", Type: "string", Required: true, Enum: []string{"balance_range", "utxo_age", "set_membership"}},
			{Name: "proof", Type: "object", Required: true},
			{Name: "publicInputs", Type: "array", Required: true},
		}},

	// System
	{Name: "btcfi_health", Description: "Check BTCFi API health status.", Method: "GET", Path: "/api/health"},
	{Name: "btcfi_api_index", Description: "Get full BTCFi API index with all endpoints and pricing.", Method: "GET", Path: "/api/v1"},
}
