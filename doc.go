/*
Package jda implements joint face detection and alignment with a boosted cascade
of shape indexed regression trees. Every unit of the cascade classifies the
window and refines the landmark estimate at the same time, so the detector
returns the face rectangles together with their aligned landmarks.

The cascade is trained stage by stage. A stage holds a fixed number of units
followed by a global shape regression. After every unit the negative pool is
mined again for background windows the partial cascade fails to reject, and the
model is checkpointed, so an interrupted training can be resumed:

	m, err := jda.NewModel(jda.Config{Stages: 5, Carts: 540, Landmarks: 27, Depth: 4})
	if err != nil {
		log.Fatal(err)
	}
	sink, err := jda.NewFileSink("models")
	if err != nil {
		log.Fatal(err)
	}
	t := jda.NewTrainer(m, jda.DefaultTrainParams(), sink)
	cur, err := t.Train(ctx, jda.Start, pos, neg)

A trained model is searched over an image pyramid with a sliding window:

	m, _, err := jda.OpenCheckpoint("models/final.model")
	if err != nil {
		log.Fatal(err)
	}
	faces, stat, err := m.DetectImage(ctx, img, jda.DefaultDetectParams())
*/
package jda
