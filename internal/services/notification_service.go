package services

import (
	"encoding/json"
	"fmt"
	"log"

	"RentChain/internal/database"
	"RentChain/internal/models"
)

// NotificationService persists in-app notifications and, when an email
// service is wired in, mirrors them to the user's inbox. One helper per
// lifecycle event keeps the title/message templates in one place.
type NotificationService struct {
	email *EmailService
}

func NewNotificationService(email *EmailService) *NotificationService {
	return &NotificationService{email: email}
}

// CreateNotification creates a new notification
func (s *NotificationService) CreateNotification(userID uint, notifType models.NotificationType, title, message, actionURL string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
		dataJSON = string(jsonBytes)
	}

	notification := models.Notification{
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
		Data:      dataJSON,
		IsRead:    false,
	}

	if err := database.DB.Create(&notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	if s.email != nil {
		var user models.User
		if err := database.DB.Select("email").First(&user, userID).Error; err == nil && user.Email != "" {
			if err := s.email.SendEventEmail(user.Email, title, message); err != nil {
				// Email delivery is best effort; the persisted row is the record.
				log.Printf("⚠️  Failed to email notification to user %d: %v", userID, err)
			}
		}
	}

	return nil
}

// NotifyContractCreated notifies the owner that a tenant requested a rental
func (s *NotificationService) NotifyContractCreated(ownerID uint, tenantName, itemTitle string, contractID uint) error {
	return s.CreateNotification(
		ownerID,
		models.NotificationContractCreated,
		"New Rental Request",
		fmt.Sprintf("%s wants to rent %s. Review and sign the contract.", tenantName, itemTitle),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
			"tenant_name": tenantName,
		},
	)
}

// NotifyContractSigned notifies the counter-party after each signature
func (s *NotificationService) NotifyContractSigned(userID uint, signerName string, contractID uint, fullySigned bool) error {
	message := fmt.Sprintf("%s has signed the rental contract.", signerName)
	if fullySigned {
		message = fmt.Sprintf("%s has signed the rental contract. Both parties have now signed; the contract is ready for deployment.", signerName)
	}
	return s.CreateNotification(
		userID,
		models.NotificationContractSigned,
		"Contract Signed",
		message,
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id":  contractID,
			"signer_name":  signerName,
			"fully_signed": fullySigned,
		},
	)
}

// NotifyContractDeployed notifies both parties of the escrow address
func (s *NotificationService) NotifyContractDeployed(userID uint, contractID uint, escrowAddress string) error {
	return s.CreateNotification(
		userID,
		models.NotificationContractDeployed,
		"Escrow Deployed",
		fmt.Sprintf("The rental contract is now backed by escrow %s.", escrowAddress),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id":      contractID,
			"contract_address": escrowAddress,
		},
	)
}

// NotifyContractActivated notifies the counter-party that the rental started
func (s *NotificationService) NotifyContractActivated(userID uint, contractID uint) error {
	return s.CreateNotification(
		userID,
		models.NotificationContractActivated,
		"Rental Active",
		"The rental contract is now active.",
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
		},
	)
}

// NotifyDepositPaid notifies the owner that the deposit arrived
func (s *NotificationService) NotifyDepositPaid(ownerID uint, tenantName string, amount float64, contractID uint) error {
	return s.CreateNotification(
		ownerID,
		models.NotificationDepositPaid,
		"Deposit Paid",
		fmt.Sprintf("%s has paid the deposit of %.4f ETH.", tenantName, amount),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
			"amount":      amount,
		},
	)
}

// NotifyContractCompleted notifies the counter-party of completion
func (s *NotificationService) NotifyContractCompleted(userID uint, actorName string, contractID uint) error {
	return s.CreateNotification(
		userID,
		models.NotificationContractCompleted,
		"Rental Completed",
		fmt.Sprintf("%s has marked the rental as completed.", actorName),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
			"actor_name":  actorName,
		},
	)
}

// NotifyContractCancelled notifies the counter-party of cancellation
func (s *NotificationService) NotifyContractCancelled(userID uint, actorName, reason string, contractID uint) error {
	return s.CreateNotification(
		userID,
		models.NotificationContractCancelled,
		"Rental Cancelled",
		fmt.Sprintf("%s has cancelled the rental contract. Reason: %s", actorName, reason),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
			"actor_name":  actorName,
			"reason":      reason,
		},
	)
}

// NotifyContractExtended notifies the owner of an extension
func (s *NotificationService) NotifyContractExtended(ownerID uint, tenantName string, contractID uint, newEnd string) error {
	return s.CreateNotification(
		ownerID,
		models.NotificationContractExtended,
		"Rental Extended",
		fmt.Sprintf("%s has extended the rental until %s.", tenantName, newEnd),
		fmt.Sprintf("/contracts/%d", contractID),
		map[string]interface{}{
			"contract_id": contractID,
			"new_end":     newEnd,
		},
	)
}

// NotifyDisputeOpened notifies the other party when a dispute is raised
func (s *NotificationService) NotifyDisputeOpened(userID uint, raisedByName, reason string, contractID, disputeID uint) error {
	return s.CreateNotification(
		userID,
		models.NotificationDisputeOpened,
		"Dispute Opened",
		fmt.Sprintf("%s has opened a dispute: %s", raisedByName, reason),
		fmt.Sprintf("/disputes/%d", disputeID),
		map[string]interface{}{
			"contract_id":    contractID,
			"dispute_id":     disputeID,
			"raised_by_name": raisedByName,
			"reason":         reason,
		},
	)
}

// NotifyDisputeResolved notifies both parties when the dispute is resolved
func (s *NotificationService) NotifyDisputeResolved(userID uint, resolution string, disputeID uint) error {
	return s.CreateNotification(
		userID,
		models.NotificationDisputeResolved,
		"Dispute Resolved",
		fmt.Sprintf("The dispute has been resolved. %s", resolution),
		fmt.Sprintf("/disputes/%d", disputeID),
		map[string]interface{}{
			"dispute_id": disputeID,
			"resolution": resolution,
		},
	)
}
