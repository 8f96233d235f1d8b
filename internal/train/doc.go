// Package train runs the supervised training loop for quantized networks.
//
// This package provides:
//   - Fit: epoch loop over minibatch pipelines with per-epoch validation
//   - Evaluate: loss and accuracy over a pipeline without updating weights
//   - EarlyStopping, ReduceLROnPlateau: Keras-style epoch callbacks
//   - History: one Record per completed epoch, plotted with PlotSVG
//
// Example usage:
//
//	hist, err := train.Fit(ctx, model, trainBatches, valBatches, train.FitConfig{
//	    Epochs:    30,
//	    Optimizer: optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3}),
//	    Callbacks: []train.Callback{
//	        train.NewEarlyStopping(train.EarlyStoppingConfig{Patience: 10, RestoreBest: true}),
//	        train.NewReduceLROnPlateau(train.PlateauConfig{Factor: 0.5, Patience: 3}),
//	    },
//	    Logger: logger,
//	})
package train
