package services

import "workflow-suite/core/pkg/models"

// Aggregate resolves approver states into a request status. Any rejection
// wins; otherwise the request is approved once every required approver has
// approved. With no required approvers that holds vacuously, so a request is
// approved as soon as it is evaluated without a rejection.
func Aggregate(approvers []models.Approver) models.RequestStatus {
	allRequiredApproved := true
	for _, a := range approvers {
		if a.Status == models.ApproverStatusRejected {
			return models.RequestStatusRejected
		}
		if a.Required && a.Status != models.ApproverStatusApproved {
			allRequiredApproved = false
		}
	}
	if allRequiredApproved {
		return models.RequestStatusApproved
	}
	return models.RequestStatusPending
}

func approverStatusFor(decision string) (models.ApproverStatus, bool) {
	switch decision {
	case models.DecisionApprove:
		return models.ApproverStatusApproved, true
	case models.DecisionReject:
		return models.ApproverStatusRejected, true
	}
	return "", false
}
