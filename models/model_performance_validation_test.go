package models_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func TestModelPerformanceValidateScopesMetricsByType(t *testing.T) {
	mae := decimal.NewFromFloat(2.5)
	acc := 0.91

	regression := models.ModelPerformanceRecord{
		ModelName: "days_to_pay",
		ModelType: models.ModelTypeRegression,
		MAE:       &mae,
	}
	if err := regression.Validate(); err != nil {
		t.Fatalf("regression with mae: %v", err)
	}

	regression.Accuracy = &acc
	if err := regression.Validate(); err == nil {
		t.Fatalf("regression model carrying accuracy must be rejected")
	}

	classification := models.ModelPerformanceRecord{
		ModelName: "payment_risk",
		ModelType: models.ModelTypeClassification,
		Accuracy:  &acc,
	}
	if err := classification.Validate(); err != nil {
		t.Fatalf("classification with accuracy: %v", err)
	}

	classification.MAE = &mae
	if err := classification.Validate(); err == nil {
		t.Fatalf("classification model carrying mae must be rejected")
	}

	forecasting := models.ModelPerformanceRecord{
		ModelName: "cash_flow",
		ModelType: models.ModelTypeForecasting,
		RMSE:      &mae,
	}
	if err := forecasting.Validate(); err != nil {
		t.Fatalf("forecasting with rmse: %v", err)
	}
}

func TestModelPerformanceValidateRequiredFields(t *testing.T) {
	rec := models.ModelPerformanceRecord{ModelType: models.ModelTypeRegression}
	if err := rec.Validate(); err == nil {
		t.Fatalf("missing model_name must be rejected")
	}

	rec = models.ModelPerformanceRecord{ModelName: "x", ModelType: "clustering"}
	if err := rec.Validate(); !errors.Is(err, models.ErrInvalidModelType) {
		t.Fatalf("unknown model type: err = %v, want ErrInvalidModelType", err)
	}
}
