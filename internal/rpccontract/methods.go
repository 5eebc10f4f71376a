package rpccontract

const (
	ServiceName = "quoteengine.v1.QuoteService"
)

const (
	MethodGetHealth                   = "/" + ServiceName + "/GetHealth"
	MethodGetSummary                  = "/" + ServiceName + "/GetSummary"
	MethodCreateRecord                = "/" + ServiceName + "/CreateRecord"
	MethodGetRecord                   = "/" + ServiceName + "/GetRecord"
	MethodListRecords                 = "/" + ServiceName + "/ListRecords"
	MethodAnalyze                     = "/" + ServiceName + "/Analyze"
	MethodAdvanceAfterExtraction      = "/" + ServiceName + "/AdvanceAfterExtraction"
	MethodSubmitClarification         = "/" + ServiceName + "/SubmitClarification"
	MethodGenerateScope               = "/" + ServiceName + "/GenerateScope"
	MethodAdvanceAfterScopeGeneration = "/" + ServiceName + "/AdvanceAfterScopeGeneration"
	MethodApproveScope                = "/" + ServiceName + "/ApproveScope"
	MethodBeginEdit                   = "/" + ServiceName + "/BeginEdit"
	MethodRequote                     = "/" + ServiceName + "/Requote"
	MethodConfirmQuote                = "/" + ServiceName + "/ConfirmQuote"
	MethodMarkReviewed                = "/" + ServiceName + "/MarkReviewed"
	MethodRecordFunding               = "/" + ServiceName + "/RecordFunding"
	MethodCancelRecord                = "/" + ServiceName + "/CancelRecord"
	MethodArchiveRecord               = "/" + ServiceName + "/ArchiveRecord"
	MethodSweepExpired                = "/" + ServiceName + "/SweepExpired"
	MethodScoreComplexity             = "/" + ServiceName + "/ScoreComplexity"
	MethodPreviewQuote                = "/" + ServiceName + "/PreviewQuote"
	MethodAssessRisk                  = "/" + ServiceName + "/AssessRisk"
)

// TokenHeader carries the shared write token; "authorization: Bearer" also works.
const TokenHeader = "x-quoteengine-token"

var WriteMethods = map[string]struct{}{
	MethodCreateRecord:                {},
	MethodAnalyze:                     {},
	MethodAdvanceAfterExtraction:      {},
	MethodSubmitClarification:         {},
	MethodGenerateScope:               {},
	MethodAdvanceAfterScopeGeneration: {},
	MethodApproveScope:                {},
	MethodBeginEdit:                   {},
	MethodRequote:                     {},
	MethodConfirmQuote:                {},
	MethodMarkReviewed:                {},
	MethodRecordFunding:               {},
	MethodCancelRecord:                {},
	MethodArchiveRecord:               {},
	MethodSweepExpired:                {},
}

// IdempotentMethods accept an "idempotency_key" field and replay the first
// response for repeated keys.
var IdempotentMethods = map[string]struct{}{
	MethodCreateRecord:  {},
	MethodRecordFunding: {},
}
