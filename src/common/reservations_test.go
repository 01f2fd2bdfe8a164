package common

import (
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"srs/src/db"
	"srs/src/models"
	"srs/src/types"
)

type ReservationSuite struct {
	suite.Suite
	DB *gorm.DB
}

var dbt *gorm.DB

func NewTestDB() *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening test database: %s", err.Error())
	}
	inner, err := gdb.DB()
	if err != nil {
		log.Fatalf("error accessing inner db instance: %s", err.Error())
	}
	// A single connection makes concurrent transactions queue the way
	// contended row locks do on the real database.
	inner.SetMaxOpenConns(1)
	return gdb
}

func (s *ReservationSuite) SetupSuite() {
	gdb := NewTestDB()
	db.NewDB(gdb)
	s.DB = gdb
	dbt = gdb

	err := dbt.AutoMigrate(
		&models.Product{},
		&models.Reservation{},
		&models.JobTask{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}
}

func (s *ReservationSuite) TearDownSuite() {
	inner, err := s.DB.DB()
	if err != nil {
		log.Printf("Error accessing inner db instance: %s\n", err.Error())
		return
	}
	inner.Close()
}

func (s *ReservationSuite) SetupTest() {
	for _, table := range []string{"reservations", "job_tasks", "products"} {
		s.Require().NoError(dbt.Exec("DELETE FROM " + table).Error)
	}
}

func (s *ReservationSuite) seedProduct(name string, stock int) models.Product {
	product := models.Product{
		Name:           name,
		Slug:           name,
		Price:          9.99,
		AvailableStock: stock,
		TotalStock:     stock,
	}
	s.Require().NoError(dbt.Create(&product).Error)
	return product
}

func (s *ReservationSuite) reloadProduct(id uint) models.Product {
	var product models.Product
	s.Require().NoError(dbt.Where(&models.Product{ID: id}).First(&product).Error)
	return product
}

func (s *ReservationSuite) reloadReservation(id uint) models.Reservation {
	var res models.Reservation
	s.Require().NoError(dbt.Where(&models.Reservation{ID: id}).First(&res).Error)
	return res
}

func (s *ReservationSuite) backdate(id uint, to time.Time) {
	s.Require().NoError(dbt.
		Model(&models.Reservation{}).
		Where(&models.Reservation{ID: id}).
		Update("expires_at", to).
		Error)
}

// assertConserved checks that no unit of stock is lost or created:
// what is free plus what active holds carry always equals the total.
func (s *ReservationSuite) assertConserved(productID uint) {
	product := s.reloadProduct(productID)
	var reserved int64
	s.Require().NoError(dbt.
		Model(&models.Reservation{}).
		Where(&models.Reservation{ProductID: productID, Status: string(types.RESERVATION_ACTIVE)}).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&reserved).
		Error)
	assert.Equal(s.T(), product.TotalStock, product.AvailableStock+int(reserved), "stock not conserved for product %d", productID)
}

func (s *ReservationSuite) TestCreateMergesAndRenews() {
	product := s.seedProduct("widget", 10)

	first, err := CreateReservation("u1", product.ID, 4)
	s.Require().NoError(err)
	assert.Equal(s.T(), 4, first.Quantity)
	assert.Equal(s.T(), string(types.RESERVATION_ACTIVE), first.Status)
	assert.Equal(s.T(), 6, s.reloadProduct(product.ID).AvailableStock)

	firstExpiry := first.ExpiresAt
	time.Sleep(10 * time.Millisecond)

	second, err := CreateReservation("u1", product.ID, 3)
	s.Require().NoError(err)
	assert.Equal(s.T(), first.ID, second.ID, "same user and product should merge into one row")
	assert.Equal(s.T(), 7, second.Quantity)
	assert.True(s.T(), second.ExpiresAt.After(firstExpiry), "merge should renew the expiry window")
	assert.Equal(s.T(), 3, s.reloadProduct(product.ID).AvailableStock)

	_, err = CreateReservation("u2", product.ID, 5)
	assert.ErrorIs(s.T(), err, ErrInsufficientStock)
	assert.Equal(s.T(), 3, s.reloadProduct(product.ID).AvailableStock, "failed attempt must not touch stock")

	third, err := CreateReservation("u2", product.ID, 3)
	s.Require().NoError(err)
	assert.NotEqual(s.T(), first.ID, third.ID)
	assert.Equal(s.T(), 0, s.reloadProduct(product.ID).AvailableStock)

	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestCreateValidation() {
	product := s.seedProduct("widget", 10)

	_, err := CreateReservation("u1", product.ID, 0)
	assert.ErrorIs(s.T(), err, ErrInvalidQuantity)

	_, err = CreateReservation("u1", product.ID, -2)
	assert.ErrorIs(s.T(), err, ErrInvalidQuantity)

	_, err = CreateReservation("u1", product.ID+999, 1)
	assert.ErrorIs(s.T(), err, ErrProductNotFound)

	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)
}

func (s *ReservationSuite) TestCreatePersistsExpiryTask() {
	product := s.seedProduct("widget", 10)

	res, err := CreateReservation("u1", product.ID, 2)
	s.Require().NoError(err)

	var tasks []models.JobTask
	s.Require().NoError(dbt.
		Model(&models.JobTask{}).
		Where(&models.JobTask{ReservationID: res.ID}).
		Find(&tasks).
		Error)
	s.Require().Len(tasks, 1)
	assert.Equal(s.T(), string(types.JOB_PENDING), tasks[0].Status)
	assert.WithinDuration(s.T(), res.ExpiresAt, tasks[0].RunsAt, time.Second)

	// Merging into an existing row keeps the one timer it already has.
	_, err = CreateReservation("u1", product.ID, 1)
	s.Require().NoError(err)
	var count int64
	s.Require().NoError(dbt.
		Model(&models.JobTask{}).
		Where(&models.JobTask{ReservationID: res.ID}).
		Count(&count).
		Error)
	assert.EqualValues(s.T(), 1, count)
}

func (s *ReservationSuite) TestCompleteIsIdempotent() {
	product := s.seedProduct("widget", 10)
	res, err := CreateReservation("u1", product.ID, 4)
	s.Require().NoError(err)

	done, err := CompleteReservation(res.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), string(types.RESERVATION_COMPLETED), done.Status)
	assert.Equal(s.T(), 6, s.reloadProduct(product.ID).AvailableStock, "completion keeps the units sold")

	again, err := CompleteReservation(res.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), string(types.RESERVATION_COMPLETED), again.Status)
	assert.Equal(s.T(), 6, s.reloadProduct(product.ID).AvailableStock)

	// Cancel after completion is a no-op, stock is not released.
	cancelled, err := CancelReservation(res.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), string(types.RESERVATION_COMPLETED), cancelled.Status)
	assert.Equal(s.T(), 6, s.reloadProduct(product.ID).AvailableStock)

	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestCompleteAfterDeadline() {
	product := s.seedProduct("widget", 10)
	res, err := CreateReservation("u1", product.ID, 4)
	s.Require().NoError(err)
	s.backdate(res.ID, time.Now().Add(-time.Second))

	expired, err := CompleteReservation(res.ID)
	assert.ErrorIs(s.T(), err, ErrReservationExpired)
	s.Require().NotNil(expired)
	assert.Equal(s.T(), string(types.RESERVATION_EXPIRED), expired.Status)
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock, "overdue completion must restore stock")

	// The second attempt sees the terminal row, stock is not restored twice.
	_, err = CompleteReservation(res.ID)
	assert.ErrorIs(s.T(), err, ErrReservationExpired)
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestCancelReleasesOnce() {
	product := s.seedProduct("widget", 10)
	res, err := CreateReservation("u1", product.ID, 4)
	s.Require().NoError(err)

	cancelled, err := CancelReservation(res.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), string(types.RESERVATION_EXPIRED), cancelled.Status)
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	again, err := CancelReservation(res.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), string(types.RESERVATION_EXPIRED), again.Status)
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	_, err = CancelReservation(res.ID + 999)
	assert.ErrorIs(s.T(), err, ErrReservationNotFound)

	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestExpireDiscardsStaleFirings() {
	product := s.seedProduct("widget", 10)
	res, err := CreateReservation("u1", product.ID, 4)
	s.Require().NoError(err)

	// The deadline is still in the future: a firing from before a renewal
	// must be discarded without touching the row.
	s.Require().NoError(ExpireReservation(res.ID))
	assert.Equal(s.T(), string(types.RESERVATION_ACTIVE), s.reloadReservation(res.ID).Status)
	assert.Equal(s.T(), 6, s.reloadProduct(product.ID).AvailableStock)

	s.backdate(res.ID, time.Now().Add(-time.Second))
	s.Require().NoError(ExpireReservation(res.ID))
	assert.Equal(s.T(), string(types.RESERVATION_EXPIRED), s.reloadReservation(res.ID).Status)
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	// Duplicate firing for a terminal row is harmless.
	s.Require().NoError(ExpireReservation(res.ID))
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	// So is a firing for a row that never existed.
	s.Require().NoError(ExpireReservation(res.ID + 999))

	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestCreateRenewsWholeCart() {
	widget := s.seedProduct("widget", 10)
	gadget := s.seedProduct("gadget", 10)

	resA, err := CreateReservation("u1", widget.ID, 2)
	s.Require().NoError(err)
	resB, err := CreateReservation("u1", gadget.ID, 3)
	s.Require().NoError(err)
	other, err := CreateReservation("u2", widget.ID, 1)
	s.Require().NoError(err)

	staleA := s.reloadReservation(resA.ID).ExpiresAt
	staleOther := other.ExpiresAt
	time.Sleep(10 * time.Millisecond)

	_, err = CreateReservation("u1", gadget.ID, 1)
	s.Require().NoError(err)

	assert.True(s.T(), s.reloadReservation(resA.ID).ExpiresAt.After(staleA), "touching one product renews the user's other holds")
	assert.Equal(s.T(), s.reloadReservation(resB.ID).ExpiresAt, s.reloadReservation(resA.ID).ExpiresAt)
	assert.Equal(s.T(), staleOther.UnixMilli(), s.reloadReservation(other.ID).ExpiresAt.UnixMilli(), "another user's hold is untouched")
}

func (s *ReservationSuite) TestConcurrentCreatesNeverOversell() {
	const stock = 3
	const attempts = 8
	product := s.seedProduct("widget", stock)

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = CreateReservation(fmt.Sprintf("user-%d", i), product.ID, 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(s.T(), err, ErrInsufficientStock)
		}
	}
	assert.Equal(s.T(), stock, winners)
	assert.Equal(s.T(), 0, s.reloadProduct(product.ID).AvailableStock)
	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestSweepRacingCancel() {
	product := s.seedProduct("widget", 20)

	ids := make([]uint, 0, 5)
	for i := 0; i < 5; i++ {
		res, err := CreateReservation(fmt.Sprintf("user-%d", i), product.ID, 2)
		s.Require().NoError(err)
		s.backdate(res.ID, time.Now().Add(-time.Second))
		ids = append(ids, res.ID)
	}
	assert.Equal(s.T(), 10, s.reloadProduct(product.ID).AvailableStock)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		SweepExpiredReservations()
	}()
	go func() {
		defer wg.Done()
		if _, err := CancelReservation(ids[0]); err != nil {
			log.Printf("cancel during sweep: %s\n", err.Error())
		}
	}()
	wg.Wait()

	for _, id := range ids {
		assert.Equal(s.T(), string(types.RESERVATION_EXPIRED), s.reloadReservation(id).Status)
	}
	assert.Equal(s.T(), 20, s.reloadProduct(product.ID).AvailableStock, "each hold must be released exactly once")
	s.assertConserved(product.ID)
}

func (s *ReservationSuite) TestGetOwnReservationsNewestFirst() {
	widget := s.seedProduct("widget", 10)
	gadget := s.seedProduct("gadget", 10)

	older, err := CreateReservation("u1", widget.ID, 1)
	s.Require().NoError(err)
	time.Sleep(10 * time.Millisecond)
	newer, err := CreateReservation("u1", gadget.ID, 1)
	s.Require().NoError(err)
	_, err = CreateReservation("u2", widget.ID, 1)
	s.Require().NoError(err)

	list, err := GetOwnReservations("u1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	assert.Equal(s.T(), newer.ID, list[0].ID)
	assert.Equal(s.T(), older.ID, list[1].ID)
	assert.Equal(s.T(), "gadget", list[0].Product.Name)

	got, err := GetReservation(older.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), "widget", got.Product.Name)

	_, err = GetReservation(newer.ID + 999)
	assert.ErrorIs(s.T(), err, ErrReservationNotFound)
}

func (s *ReservationSuite) TestMissedJobsAreFlagged() {
	product := s.seedProduct("widget", 10)
	res, err := CreateReservation("u1", product.ID, 1)
	s.Require().NoError(err)

	s.Require().NoError(dbt.
		Model(&models.JobTask{}).
		Where(&models.JobTask{ReservationID: res.ID}).
		Update("runs_at", time.Now().Add(-time.Minute)).
		Error)

	MarkMissedJobs()

	var task models.JobTask
	s.Require().NoError(dbt.
		Where(&models.JobTask{ReservationID: res.ID}).
		First(&task).
		Error)
	assert.Equal(s.T(), string(types.JOB_MISSED), task.Status)

	// Recovery only re-arms timers still in the future, so a missed row
	// stays parked and the sweep covers its reservation.
	s.Require().NoError(RearmPendingJobs())
}

func TestReservationRunner(t *testing.T) {
	suite.Run(t, new(ReservationSuite))
}
