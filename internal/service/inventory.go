package service

import (
	"context"
	"time"

	"car-rental-backend/internal/domain"
	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/repository"
)

type carInventory struct {
	cars    repository.CarRepository
	rentals repository.RentalRepository
}

func NewInventory(cars repository.CarRepository, rentals repository.RentalRepository) Inventory {
	return &carInventory{cars: cars, rentals: rentals}
}

func (i *carInventory) GetCar(ctx context.Context, carID int64) (*domain.CarSnapshot, error) {
	return i.cars.GetByID(ctx, carID)
}

// IsAvailable is a read-only pre-check; the authoritative overlap test runs
// again under the car lock when the rental is written.
func (i *carInventory) IsAvailable(ctx context.Context, carID int64, start, end time.Time) (bool, error) {
	car, err := i.cars.GetByID(ctx, carID)
	if err != nil {
		return false, err
	}
	if domain.IsBlocking(car.Status) {
		return false, nil
	}
	overlap, err := i.rentals.HasOverlap(ctx, carID, start, end, 0)
	if err != nil {
		return false, err
	}
	return !overlap, nil
}

func (i *carInventory) Reserve(ctx context.Context, carID int64) error {
	return i.setStatus(ctx, carID, domain.CarStatusReserved)
}

func (i *carInventory) Release(ctx context.Context, carID int64) error {
	return i.setStatus(ctx, carID, domain.CarStatusAvailable)
}

// setStatus never overrides a maintenance hold placed by the fleet side.
func (i *carInventory) setStatus(ctx context.Context, carID int64, status domain.CarStatus) error {
	car, err := i.cars.GetByID(ctx, carID)
	if err != nil {
		return err
	}
	if domain.IsBlocking(car.Status) {
		logger.Debug("Car status left unchanged", "car_id", carID, "status", car.Status, "requested", status)
		return nil
	}
	return i.cars.UpdateStatus(ctx, carID, status)
}
