package cart

import cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"

// mutationResponse is the body returned by the add, update and remove endpoints.
type mutationResponse struct {
	Success bool          `json:"success"`
	Cart    *cartsvc.View `json:"cart"`
}

func newMutationResponse(view *cartsvc.View) mutationResponse {
	return mutationResponse{Success: true, Cart: view}
}
