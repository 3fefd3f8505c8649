package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// CartService manages the pre-checkout cart. Unit prices are captured when a
// line is added and never re-read at checkout.
type CartService struct {
	store  store.Transactor
	now    func() time.Time
	logger *zap.Logger
}

func NewCartService(store store.Transactor) *CartService {
	return &CartService{store: store, now: time.Now, logger: util.Named("cart")}
}

type CartView struct {
	Lines    []models.CartLine `json:"lines"`
	Subtotal int64             `json:"subtotal"`
}

// AddItem adds quantity of a product. With withBonus set and the product's
// promotion still running, the bonus product is added at its bonus price as a
// line tied to the parent.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int, withBonus bool) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		existing, err := tx.FindCartLine(ctx, userID, productID, nil)
		if err != nil {
			return err
		}
		total := quantity
		if existing != nil {
			total += existing.Quantity
		}
		if total > product.Stock {
			return ErrInsufficientStock.Withf("cart: only %d of %s left", product.Stock, product.Name)
		}

		if err := upsertLine(ctx, tx, existing, &models.CartLine{
			UserID: userID, ProductID: productID, Quantity: total, UnitPrice: product.Price,
		}); err != nil {
			return err
		}

		if !withBonus || !product.BonusOffered(s.now()) {
			return nil
		}
		return s.addBonus(ctx, tx, userID, product, quantity)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return s.GetCart(ctx, userID)
}

func (s *CartService) addBonus(ctx context.Context, tx store.Repository, userID int64, parent *models.Product, quantity int) error {
	bonus, err := tx.GetProduct(ctx, *parent.BonusProductID)
	if err != nil {
		return err
	}

	price := bonus.Price
	if parent.BonusPrice != nil {
		price = *parent.BonusPrice
	}

	existing, err := tx.FindCartLine(ctx, userID, bonus.ID, &parent.ID)
	if err != nil {
		return err
	}
	total := quantity
	if existing != nil {
		total += existing.Quantity
	}

	parentID := parent.ID
	return upsertLine(ctx, tx, existing, &models.CartLine{
		UserID: userID, ProductID: bonus.ID, Quantity: total, UnitPrice: price, BonusOf: &parentID,
	})
}

func upsertLine(ctx context.Context, tx store.Repository, existing, line *models.CartLine) error {
	if existing != nil {
		return tx.UpdateCartLine(ctx, existing.ID, line.Quantity, line.UnitPrice)
	}
	return tx.InsertCartLine(ctx, line)
}

// UpdateQuantity sets a line's quantity; zero or less removes it. Bonus
// lines are resized with their parent and cannot be edited directly.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, lineID)
	}

	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		line, err := tx.GetCartLine(ctx, userID, lineID)
		if err != nil {
			return err
		}
		if line.BonusOf != nil {
			return ErrBonusLineLocked
		}

		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if quantity > product.Stock {
			return ErrInsufficientStock.Withf("cart: only %d of %s left", product.Stock, product.Name)
		}
		if err := tx.UpdateCartLine(ctx, line.ID, quantity, line.UnitPrice); err != nil {
			return err
		}

		if product.BonusProductID == nil {
			return nil
		}
		bonus, err := tx.FindCartLine(ctx, userID, *product.BonusProductID, &product.ID)
		if err != nil || bonus == nil {
			return err
		}
		return tx.UpdateCartLine(ctx, bonus.ID, quantity, bonus.UnitPrice)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

// RemoveItem deletes a line together with any bonus lines it brought in.
func (s *CartService) RemoveItem(ctx context.Context, userID, lineID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		line, err := tx.GetCartLine(ctx, userID, lineID)
		if err != nil {
			return err
		}
		if err := tx.DeleteCartLine(ctx, userID, line.ID); err != nil {
			return err
		}
		if line.BonusOf == nil {
			return tx.DeleteBonusLines(ctx, userID, line.ProductID)
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	lines, err := s.store.GetCartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CartView{Lines: lines, Subtotal: pricing.Subtotal(lines)}, nil
}
