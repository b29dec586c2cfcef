package validation

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggbundi/Nomatoken/internal/domain"
)

// PaymentInput is the decoded body of an initiation request.
type PaymentInput struct {
	PhoneNumber      string `json:"phoneNumber"`
	Amount           any    `json:"amount"`
	AccountReference string `json:"accountReference"`
}

func ValidatePaymentRequest(in PaymentInput, b Bounds) (domain.PaymentRequest, Errors) {
	var errs Errors

	phone := ValidatePhoneNumber(in.PhoneNumber)
	if !phone.IsValid {
		errs.Add("phoneNumber", phone.Error)
	}
	amount := ValidateAmount(in.Amount, b)
	if !amount.IsValid {
		errs.Add("amount", amount.Error)
	}
	if len(errs) > 0 {
		return domain.PaymentRequest{}, errs
	}

	return domain.PaymentRequest{
		PhoneNumber:      phone.Formatted,
		Amount:           amount.Value,
		AccountReference: NormalizeAccountReference(in.AccountReference),
	}, nil
}

func ValidateStatusQuery(checkoutID, merchantID string) (domain.StatusQuery, Errors) {
	var errs Errors
	q := domain.StatusQuery{
		CheckoutRequestID: strings.TrimSpace(checkoutID),
		MerchantRequestID: strings.TrimSpace(merchantID),
	}
	validateIdentifiers(q.CheckoutRequestID, q.MerchantRequestID, &errs)
	if len(errs) > 0 {
		return domain.StatusQuery{}, errs
	}
	return q, nil
}

// StatusUpdateInput is the decoded body of an administrative status change.
type StatusUpdateInput struct {
	CheckoutRequestID  string `json:"checkoutRequestId"`
	MerchantRequestID  string `json:"merchantRequestId"`
	Status             string `json:"status"`
	ResultDesc         string `json:"resultDesc"`
	MpesaReceiptNumber string `json:"mpesaReceiptNumber"`
}

func ValidateStatusUpdate(in StatusUpdateInput) (domain.StatusUpdate, Errors) {
	var errs Errors
	validateIdentifiers(in.CheckoutRequestID, in.MerchantRequestID, &errs)

	status, err := domain.ParseStatus(in.Status)
	if err != nil {
		errs.Add("status", "must be one of pending, completed, failed, expired, cancelled")
	}
	if in.MpesaReceiptNumber != "" && !ValidateReceiptNumber(in.MpesaReceiptNumber) {
		errs.Add("mpesaReceiptNumber", msgInvalidReceipt)
	}
	if len(errs) > 0 {
		return domain.StatusUpdate{}, errs
	}

	return domain.StatusUpdate{
		CheckoutRequestID:  in.CheckoutRequestID,
		MerchantRequestID:  in.MerchantRequestID,
		Status:             status,
		ResultDesc:         in.ResultDesc,
		MpesaReceiptNumber: in.MpesaReceiptNumber,
	}, nil
}

// PurchaseInput is the decoded body of a token purchase completion.
type PurchaseInput struct {
	PaymentMethod      string `json:"paymentMethod"`
	Amount             any    `json:"amount"`
	PhoneNumber        string `json:"phoneNumber"`
	MpesaReceiptNumber string `json:"mpesaReceiptNumber"`
	CheckoutRequestID  string `json:"checkoutRequestId"`
	MerchantRequestID  string `json:"merchantRequestId"`
	UserAddress        string `json:"userAddress"`
}

func ValidateTokenPurchase(in PurchaseInput, b Bounds) (domain.PurchaseRequest, Errors) {
	var errs Errors

	if in.PaymentMethod != domain.PaymentMethodMpesa {
		errs.Add("paymentMethod", `must be "mpesa"`)
	}
	amount := ValidateAmount(in.Amount, b)
	if !amount.IsValid {
		errs.Add("amount", amount.Error)
	}
	phone := ValidatePhoneNumber(in.PhoneNumber)
	if !phone.IsValid {
		errs.Add("phoneNumber", phone.Error)
	}
	if !ValidateReceiptNumber(in.MpesaReceiptNumber) {
		errs.Add("mpesaReceiptNumber", msgInvalidReceipt)
	}
	if !ValidateCheckoutRequestID(in.CheckoutRequestID) {
		errs.Add("checkoutRequestId", msgInvalidCheckout)
	}
	if !ValidateMerchantRequestID(in.MerchantRequestID) {
		errs.Add("merchantRequestId", msgInvalidMerchant)
	}
	var address string
	if in.UserAddress != "" {
		if !common.IsHexAddress(in.UserAddress) {
			errs.Add("userAddress", "Invalid wallet address")
		} else {
			address = common.HexToAddress(in.UserAddress).Hex()
		}
	}
	if len(errs) > 0 {
		return domain.PurchaseRequest{}, errs
	}

	return domain.PurchaseRequest{
		PaymentMethod:      in.PaymentMethod,
		Amount:             amount.Value,
		PhoneNumber:        phone.Formatted,
		MpesaReceiptNumber: in.MpesaReceiptNumber,
		CheckoutRequestID:  in.CheckoutRequestID,
		MerchantRequestID:  in.MerchantRequestID,
		UserAddress:        address,
	}, nil
}

func ValidatePurchaseHistoryQuery(userAddress, phoneNumber string) (domain.PurchaseQuery, Errors) {
	var errs Errors
	userAddress = strings.TrimSpace(userAddress)
	phoneNumber = strings.TrimSpace(phoneNumber)

	if userAddress == "" && phoneNumber == "" {
		errs.Add("query", "userAddress or phoneNumber is required")
		return domain.PurchaseQuery{}, errs
	}

	var q domain.PurchaseQuery
	if userAddress != "" {
		if common.IsHexAddress(userAddress) {
			q.UserAddress = common.HexToAddress(userAddress).Hex()
		} else {
			errs.Add("userAddress", "Invalid wallet address")
		}
	}
	if phoneNumber != "" {
		if phone := ValidatePhoneNumber(phoneNumber); phone.IsValid {
			q.PhoneNumber = phone.Formatted
		} else {
			errs.Add("phoneNumber", phone.Error)
		}
	}
	if len(errs) > 0 {
		return domain.PurchaseQuery{}, errs
	}
	return q, nil
}

func validateIdentifiers(checkoutID, merchantID string, errs *Errors) {
	if checkoutID == "" && merchantID == "" {
		errs.Add("checkoutRequestId", msgRequiredIdentity)
		return
	}
	if checkoutID != "" && !ValidateCheckoutRequestID(checkoutID) {
		errs.Add("checkoutRequestId", msgInvalidCheckout)
	}
	if merchantID != "" && !ValidateMerchantRequestID(merchantID) {
		errs.Add("merchantRequestId", msgInvalidMerchant)
	}
}
